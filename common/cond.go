package common

import (
	"io"
)

func Close(closers ...any) {
	for _, closer := range closers {
		if closer == nil {
			continue
		}
		if c, isCloser := closer.(io.Closer); isCloser {
			c.Close()
		}
	}
}
