package sfclient

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt([]byte("  short \n")))

	long := strings.Repeat("a", maxBodyExcerpt+10)
	assert.Equal(t, strings.Repeat("a", maxBodyExcerpt)+"...", excerpt([]byte(long)))

	// 截断点落在多字节字符中间时退回到字符边界
	multi := strings.Repeat("a", maxBodyExcerpt-1) + strings.Repeat("评", 10)
	got := excerpt([]byte(multi))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxBodyExcerpt-1)+"...", got)
}

func TestUpsertError_IsRejected(t *testing.T) {
	err := &UpsertError{Rejected: []string{"k1: ERROR bad"}}
	assert.True(t, errors.Is(err, ErrUpsertRejected))
	assert.Contains(t, err.Error(), "k1: ERROR bad")
}
