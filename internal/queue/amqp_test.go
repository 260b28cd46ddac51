package queue

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

func TestHeaderInt(t *testing.T) {
	h := amqp.Table{
		"i32": int32(2),
		"i64": int64(3),
		"str": "4",
	}
	assert.Equal(t, 2, headerInt(h, "i32", 1))
	assert.Equal(t, 3, headerInt(h, "i64", 1))
	assert.Equal(t, 1, headerInt(h, "str", 1))
	assert.Equal(t, 1, headerInt(h, "missing", 1))
	assert.Equal(t, 1, headerInt(nil, "missing", 1))
}
