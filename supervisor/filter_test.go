package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilterEmptyPatterns(t *testing.T) {
	filter, err := NewGlobFilter(nil)
	require.NoError(t, err)

	assert.False(t, filter.Excluded("/var/log/app.log"))
	assert.False(t, filter.Excluded(""))
}

func TestGlobFilterBaseName(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*.gz", "debug-?.log"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("/var/log/app.log.1.gz"))
	assert.True(t, filter.Excluded("/var/log/nested/old.gz"))
	assert.True(t, filter.Excluded("/var/log/debug-1.log"))

	assert.False(t, filter.Excluded("/var/log/debug-12.log"))
	assert.False(t, filter.Excluded("/var/log/app.log"))
}

func TestGlobFilterFullPath(t *testing.T) {
	filter, err := NewGlobFilter([]string{"/var/log/archive/*", "/srv/**/tmp.log"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("/var/log/archive/app.log"))
	assert.True(t, filter.Excluded("/srv/a/b/tmp.log"))

	// Single star does not cross directories
	assert.False(t, filter.Excluded("/var/log/archive/2024/app.log"))
	assert.False(t, filter.Excluded("/var/log/app.log"))
}

func TestGlobFilterAlternatives(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*.{gz,zst}"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("/var/log/a.gz"))
	assert.True(t, filter.Excluded("/var/log/a.zst"))
	assert.False(t, filter.Excluded("/var/log/a.log"))
}

func TestGlobFilterCaseSensitive(t *testing.T) {
	filter, err := NewGlobFilter([]string{"App.log"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("/var/log/App.log"))
	assert.False(t, filter.Excluded("/var/log/app.log"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"app["})
	assert.Error(t, err)
}
