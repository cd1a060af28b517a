package util

import (
	"github.com/google/uuid"
)

func MustPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// Generate 生成一个全局唯一 id
func Generate() string {
	return uuid.NewString()
}
