package registry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const hmacKey = "rvlink-bridge"

// machineUID returns a stable per-host identifier. Linux hosts expose one at
// /etc/machine-id; anything else falls back to the hostname, which is good
// enough to keep unique_id stable across restarts on the same box.
func machineUID() string {
	if b, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "rvlink-bridge-unknown-host"
}

// machineHMAC returns the base64-encoded (URL-unsafe chars stripped)
// HMAC-SHA256 of the machine UID, used as the per-install prefix of every
// non-battery unique_id.
func machineHMAC() string {
	mac := hmac.New(sha256.New, []byte(hmacKey))
	mac.Write([]byte(machineUID()))
	sum := mac.Sum(nil)
	encoded := base64.StdEncoding.EncodeToString(sum)
	encoded = strings.ReplaceAll(encoded, "/", "")
	encoded = strings.ReplaceAll(encoded, "+", "")
	encoded = strings.ReplaceAll(encoded, "=", "")
	return encoded
}

// BatteryUniqueID is the fixed unique_id for the system battery entity.
const BatteryUniqueID = "battery"

// UniqueID computes the MQTT unique_id for a device-table entry:
// "{machine_hmac}-{device_entity_type}-can-{table}-{device}".
func UniqueID(entityType string, tableID uint32, deviceID uint16) string {
	return fmt.Sprintf("%s-%s-can-%d-%d", machineHMAC(), entityType, tableID, deviceID)
}
