package config

import (
	"strconv"

	"atlasprep/internal/blob"
	"atlasprep/internal/persistence"
)

type field struct {
	key string
	get func(*Config) string
	set func(*Config, string) error
}

func (f field) env() string { return EnvName(f.key) }

func stringField(key string, ptr func(*Config) *string) field {
	return field{
		key: key,
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

var fields = []field{
	stringField("reference.panel", func(c *Config) *string { return &c.Reference.Panel }),
	stringField("reference.path", func(c *Config) *string { return &c.Reference.Path }),
	{
		key: "alignment.min_overlap",
		get: func(c *Config) string { return strconv.Itoa(c.Alignment.MinOverlap) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.Alignment.MinOverlap = n
			return nil
		},
	},
	stringField("cohort.column", func(c *Config) *string { return &c.Cohort.Column }),
	stringField("cohort.dataset_attribute", func(c *Config) *string { return &c.Cohort.DatasetAttribute }),
	{
		key: "storage.driver",
		get: func(c *Config) string { return string(c.Storage.Driver) },
		set: func(c *Config, v string) error { c.Storage.Driver = persistence.Driver(v); return nil },
	},
	stringField("storage.dsn", func(c *Config) *string { return &c.Storage.DSN }),
	{
		key: "blob.driver",
		get: func(c *Config) string { return string(c.Blob.Driver) },
		set: func(c *Config, v string) error { c.Blob.Driver = blob.Driver(v); return nil },
	},
	stringField("blob.fs_root", func(c *Config) *string { return &c.Blob.FSRoot }),
	stringField("blob.s3.bucket", func(c *Config) *string { return &c.Blob.S3.Bucket }),
	stringField("blob.s3.region", func(c *Config) *string { return &c.Blob.S3.Region }),
	stringField("blob.s3.prefix", func(c *Config) *string { return &c.Blob.S3.Prefix }),
	stringField("blob.s3.endpoint", func(c *Config) *string { return &c.Blob.S3.Endpoint }),
	{
		key: "blob.s3.path_style",
		get: func(c *Config) string { return strconv.FormatBool(c.Blob.S3.PathStyle) },
		set: func(c *Config, v string) error {
			b, err := parseBool(v)
			c.Blob.S3.PathStyle = b
			return err
		},
	},
	stringField("log.level", func(c *Config) *string { return &c.Log.Level }),
	stringField("log.format", func(c *Config) *string { return &c.Log.Format }),
	stringField("metrics.textfile", func(c *Config) *string { return &c.Metrics.Textfile }),
}

func fieldByKey(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}
