package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type defConfig struct {
	Name     string        `def:"default_name"`
	Age      int           `def:"25"`
	Height   float64       `def:"175.5"`
	IsActive bool          `def:"true"`
	Tags     []string      `def:"tag1,tag2,tag3"`
	Timeout  time.Duration `def:"30s"`
	Since    time.Time     `def:"2023-01-01T00:00:00Z"`
	Comment  *string       `def:"hello"`

	Database defDatabase
	Cache    *defDatabase
}

type defDatabase struct {
	Host string `def:"localhost"`
	Port int    `def:"3306"`
}

func TestSetDefaults(t *testing.T) {
	config := &defConfig{}
	assert.NoError(t, SetDefaults(config))

	assert.Equal(t, "default_name", config.Name)
	assert.Equal(t, 25, config.Age)
	assert.Equal(t, 175.5, config.Height)
	assert.True(t, config.IsActive)
	assert.Equal(t, []string{"tag1", "tag2", "tag3"}, config.Tags)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), config.Since)
	if assert.NotNil(t, config.Comment) {
		assert.Equal(t, "hello", *config.Comment)
	}
	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, 3306, config.Database.Port)
	assert.Nil(t, config.Cache)
}

func TestSetDefaultsKeepValues(t *testing.T) {
	config := &defConfig{Name: "custom", Age: 30, Cache: &defDatabase{Host: "cache"}}
	assert.NoError(t, SetDefaults(config))

	assert.Equal(t, "custom", config.Name)
	assert.Equal(t, 30, config.Age)
	assert.Equal(t, "cache", config.Cache.Host)
	assert.Equal(t, 3306, config.Cache.Port)
}

func TestSetDefaultsErrors(t *testing.T) {
	assert.Error(t, SetDefaults(nil))
	assert.Error(t, SetDefaults(defConfig{}))

	var bad struct {
		Port int `def:"abc"`
	}
	assert.Error(t, SetDefaults(&bad))
}
