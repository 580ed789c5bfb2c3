package app

import "errors"

var ErrUnknownGroup = errors.New("unknown group")
