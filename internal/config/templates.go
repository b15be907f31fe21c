package config

import (
	"fmt"
	"os"
)

func Template() string {
	return defaultTemplate
}

// WriteTemplate writes the commented default config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `# serial device; leave empty to probe every port
serial_port = ""
baud_rate = 115200
ini_file = "./config/mainController.ini"

poll_delay = "15ms"
watchdog_interval = "500ms"

# realtime block request
can_id = 0
table = 7

log_dir = "./logs"
logging_enabled = true
# first header line of each .msl file; empty uses the MS2/Extra banner
banner = ""

[broadcast]
enabled = false
topic = "mslogger.samples"
# set to publish over NATS instead of in-process
nats_url = ""

[metrics]
# e.g. ":9102"; empty disables /metrics
addr = ""

[constants]
stoich = 14.7
nCylinders = 4.0
reqFuel = 0.0
`
