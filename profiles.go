/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "time"

// Names of the commonly used profiles returned by DefaultProfiles.
const (
	ProfileAuthentication = "authentication"
	ProfilePasswordReset  = "password-reset"
	ProfileCheckout       = "checkout"
	ProfileSearch         = "search"
	ProfileUpload         = "upload"
	ProfileAdminOps       = "admin-operations"
	ProfileCartOps        = "cart-operations"
	ProfileDataExport     = "data-export"
	ProfileDataDeletion   = "data-deletion"
)

// DefaultProfiles returns the stock throttling policy table.
// Services with different needs define their own profiles or load them from
// configuration (see Config); adding a policy is just a new table entry.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: ProfileAuthentication, MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "auth", Identification: ModeIP},
		{Name: ProfilePasswordReset, MaxRequests: 3, Window: time.Hour, KeyPrefix: "pwreset", Identification: ModeIP},
		{Name: ProfileCheckout, MaxRequests: 10, Window: time.Minute, KeyPrefix: "checkout", Identification: ModeIP},
		{Name: ProfileSearch, MaxRequests: 30, Window: time.Minute, KeyPrefix: "search", Identification: ModeIP},
		{Name: ProfileUpload, MaxRequests: 10, Window: 10 * time.Minute, KeyPrefix: "upload", Identification: ModeIP},
		{Name: ProfileAdminOps, MaxRequests: 200, Window: time.Minute, KeyPrefix: "admin", Identification: ModeSession},
		{Name: ProfileCartOps, MaxRequests: 100, Window: time.Hour, KeyPrefix: "cart", Identification: ModeSession},
		{Name: ProfileDataExport, MaxRequests: 5, Window: time.Hour, KeyPrefix: "export", Identification: ModeSession},
		{Name: ProfileDataDeletion, MaxRequests: 3, Window: 24 * time.Hour, KeyPrefix: "delete", Identification: ModeSession},
	}
}
