package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template returns a commented starter inventory.
func Template() string {
	return inventoryTemplate
}

// WriteTemplate writes the starter inventory to path, creating its directory.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(inventoryTemplate), 0o600)
}

const inventoryTemplate = `[settings]
run_type = "serial"     # serial | parallel | batch
batch_size = 5
cache_ttl = "1h"
output = "yaml"         # yaml | json

[server]
addr = ":8787"
token = ""
cors_origins = ["http://localhost:3000"]

[[controllers]]
uuid = "00000000-0000-0000-0000-000000000001"
name = "prod"
customer = "acme"
owner = "ops"
endpoint = "10.0.0.10:17070"
user = "admin"
password = ""
transport = "rpc"
ca_cert = """
"""

[controllers.model_mapping]
obs = ["lma", "cos"]

[controllers.tags]
region = "eu"

[[controllers]]
uuid = "00000000-0000-0000-0000-000000000002"
name = "staging"
customer = "acme"
transport = "cli"

[controllers.ssh]
host = "bastion.example.com"
user = "ubuntu"
`
