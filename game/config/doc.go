// Package config loads the relay's settings.
//
// Sources, lowest precedence first: defaults, an optional config file,
// PONG_* environment variables (dots become underscores, so redis.addr is
// PONG_REDIS_ADDR), then command line flags.
//
// Usage:
//
//	fs := pflag.NewFlagSet("pongrelay", pflag.ExitOnError)
//	config.RegisterFlags(fs)
//	fs.Parse(os.Args[1:])
//
//	v := config.New()
//	config.BindFlags(v, fs)
//	settings, err := config.Load(v, configFile)
package config
