package sqlite

import "errors"

var errEmptyRawIDs = errors.New("processed activity requires at least one raw activity id")
