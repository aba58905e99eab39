package transport

import "errors"

var noUsableAddress = errors.New("no usable address")
var pollSetTooSmall = errors.New("poll set capacity must exceed max connection count")
var pollSetFull = errors.New("poll set is full")
