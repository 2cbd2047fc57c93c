package systemd

import "fmt"

// Unit file names written by Install.
const (
	ServeUnitName = "backupsentry.service"
	HoneyUnitName = "backupsentry-honey@.service"
)

// ServeUnit returns the unit for the long-running assessor service
// (gRPC, metrics, config reload and honeytoken watches).
func ServeUnit(bin, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Backupsentry assessor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=full

[Install]
WantedBy=multi-user.target
`, bin, configPath)
}

// HoneyUnit returns the template unit that watches the honey set of one
// backup. The %%i instance specifier is resolved by systemd to the backup name.
func HoneyUnit(bin, configPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Backupsentry honeytoken watch (%%i)
After=network-online.target

[Service]
Type=simple
ExecStart=%s honey watch --config %s %%i
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`, bin, configPath)
}
