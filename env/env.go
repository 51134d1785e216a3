package env

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Environment struct {
	ConfigPath  string
	DeviceID    string
	URI         string
	Exchange    string
	CouchURI    string
	CouchDB     string
	SQLitePath  string
	MetricsAddr string
	HealthAddr  string
	SerialPort  string
	Baud        int
	DryRun      bool
}

func lookup(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// LoadEnv reads .env, if present, and then the process environment. Optional
// services are left empty when their variables are unset.
func LoadEnv(logger *zap.Logger) (*Environment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		logger.Debug("no .env file")
	}
	e := &Environment{
		ConfigPath:  lookup("DEOXY_CONFIG", "deoxy.yaml"),
		DeviceID:    lookup("DEOXY_DEVICE_ID", "deoxy"),
		URI:         lookup("RABBITMQ_URI", ""),
		Exchange:    lookup("AMQP_EXCHANGE", "devices"),
		CouchURI:    lookup("COUCHDB_URI", ""),
		CouchDB:     lookup("COUCHDB_DB", "deoxy_jobs"),
		SQLitePath:  lookup("DEOXY_JOURNAL", ""),
		MetricsAddr: lookup("METRICS_ADDR", ""),
		HealthAddr:  lookup("HEALTH_ADDR", ""),
		SerialPort:  lookup("SERIAL_PORT", ""),
		Baud:        115200,
	}
	if baud, ok := os.LookupEnv("SERIAL_BAUD"); ok && baud != "" {
		b, err := strconv.ParseInt(baud, 10, 64)
		if err != nil {
			logger.Error("Failed to parse baud", zap.Error(err))
			return nil, err
		}
		e.Baud = int(b)
	}
	if dry, ok := os.LookupEnv("DEOXY_DRY_RUN"); ok && dry != "" {
		d, err := strconv.ParseBool(dry)
		if err != nil {
			return nil, err
		}
		e.DryRun = d
	}
	logger.Info("loaded environment",
		zap.String("device", e.DeviceID),
		zap.Bool("amqp", e.URI != ""),
		zap.Bool("couchdb", e.CouchURI != ""),
		zap.Bool("dry_run", e.DryRun),
	)
	return e, nil
}
