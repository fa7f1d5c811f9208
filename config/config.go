package config

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Config represents config info
var Config ConfList

// ConfList has contents of config.ini
type ConfList struct {
	DBdriver string
	DBname   string
	Port     int
	IP       string

	InitialCash     float64
	OutDir          string
	MarkErrorPolicy string

	TushareToken  string
	TushareURL    string
	SyncRateLimit int
}

// InitConfig initializes config settings. Missing file or keys fall back to
// the defaults below so the CLI works without a config.ini.
func InitConfig() {
	conf, err := ini.Load("config.ini")
	if err != nil {
		logrus.Warnf("init file open error: %v", err)
		conf = ini.Empty()
	}

	Config = ConfList{
		DBdriver:        conf.Section("db").Key("driver").MustString("sqlite3"),
		DBname:          conf.Section("db").Key("name").MustString("data/data.sqlite"),
		Port:            conf.Section("web").Key("port").MustInt(8080),
		IP:              conf.Section("web").Key("ip").MustString("127.0.0.1"),
		InitialCash:     conf.Section("backtest").Key("initial_cash").MustFloat64(1_000_000),
		OutDir:          conf.Section("backtest").Key("out_dir").MustString("data/backtests"),
		MarkErrorPolicy: conf.Section("backtest").Key("mark_error_policy").MustString("warn"),
		TushareToken:    conf.Section("sync").Key("token").String(),
		TushareURL:      conf.Section("sync").Key("url").MustString("https://api.tushare.pro"),
		SyncRateLimit:   conf.Section("sync").Key("rate_limit_per_min").MustInt(90),
	}
}
