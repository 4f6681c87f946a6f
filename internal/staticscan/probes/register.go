// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probes

import "grimm.is/netwarden/internal/staticscan"

// RegisterAll adds the built-in probe set to a registry.
func RegisterAll(r *staticscan.Registry) {
	r.Register("ports", Ports)
	r.Register("os_banner", OSBanner)
	r.Register("dns", DNS)
	r.Register("upnp", UPnP)
	r.Register("ssl_cert", SSLCert)
}
