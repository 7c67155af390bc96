package db

import "errors"

var ErrPendingAppealExists = errors.New("pending appeal exists")
