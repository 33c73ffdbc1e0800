package config

import (
	"fmt"
	"os"
)

func Template() string {
	return leapTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(leapTemplate), 0o600)
}

const leapTemplate = `# pump the viewer forwards controller events from
source = "puppetry.controller"
start_request_id = -1
max_payload_bytes = 33554432
inbound_queue_size = 64
handshake_timeout = "5s"
await_listen_ack = false

# frame dump (R:/W: records); empty disables
dump_path = ""
log_level = "info"
# e.g. "127.0.0.1:9464"; empty disables
metrics_addr = ""
`
