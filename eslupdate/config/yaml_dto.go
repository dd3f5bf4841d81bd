package config

// yamlConfig mirrors the on-disk layout of eslupdate.yaml.
type yamlConfig struct {
	Broker   string    `yaml:"broker"`
	ClientID string    `yaml:"client_id"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	Timeout  string    `yaml:"timeout"`
	Settle   string    `yaml:"settle"`
	Journal  string    `yaml:"journal"`
	LogLevel string    `yaml:"log_level"`
	Label    yamlLabel `yaml:"label"`
}

type yamlLabel struct {
	Line1 string `yaml:"line1"`
	Line2 string `yaml:"line2"`
	Line3 string `yaml:"line3"`
	Price string `yaml:"price"`
	TagID string `yaml:"tag_id"`
}
