package main

import (
	"strconv"

	"github.com/OneOfOne/xxhash"
)

func hashBytesHex(b []byte) string {
	h := xxhash.New64()
	h.Write(b)
	return strconv.FormatUint(h.Sum64(), 16)
}
