// Package device declares the federation device list endpoint.
package device

import (
	"net/http"

	"github.com/broady/fedapi"
	"github.com/broady/fedapi/identifiers"
)

// GetDevicesRequest names the user whose devices are requested.
type GetDevicesRequest struct {
	UserID identifiers.UserID `json:"userId" fed:"path"`
}

// GetDevicesResponse lists a user's devices.
type GetDevicesResponse struct {
	UserID identifiers.UserID `json:"user_id"`
	// StreamID increases whenever the device list changes.
	StreamID int64    `json:"stream_id"`
	Devices  []Device `json:"devices"`
}

// Device is one entry of a device list.
type Device struct {
	DeviceID    identifiers.DeviceID `json:"device_id"`
	DisplayName string               `json:"device_display_name,omitempty"`
}

// GetDevices fetches the devices of a user on the destination server.
var GetDevices = fedapi.MustDefine[GetDevicesRequest, GetDevicesResponse](fedapi.Metadata{
	Name:           "get_devices",
	Description:    "Gets information on all of the user's devices.",
	Method:         http.MethodGet,
	Path:           "/_matrix/federation/v1/user/devices/{userId}",
	Authentication: fedapi.AuthServerSignature,
})
