/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	t.Run("valid profiles", func(t *testing.T) {
		reg, err := NewRegistry(
			Profile{Name: "authentication", MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "auth", Identification: ModeIP},
			Profile{Name: "checkout", MaxRequests: 10, Window: time.Minute, KeyPrefix: "checkout", Identification: ModeIP},
		)
		require.NoError(t, err)

		p, err := reg.Lookup("authentication")
		require.NoError(t, err)
		require.Equal(t, 5, p.MaxRequests)
		require.Equal(t, 15*time.Minute, p.Window)

		require.Equal(t, []string{"authentication", "checkout"}, reg.Names())
	})

	t.Run("invalid profile fails fast", func(t *testing.T) {
		_, err := NewRegistry(
			Profile{Name: "broken", MaxRequests: 0, Window: time.Minute, KeyPrefix: "b", Identification: ModeIP},
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), "max requests must be positive")
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := NewRegistry(
			Profile{Name: "search", MaxRequests: 30, Window: time.Minute, KeyPrefix: "search1", Identification: ModeIP},
			Profile{Name: "search", MaxRequests: 10, Window: time.Minute, KeyPrefix: "search2", Identification: ModeIP},
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), `duplicate profile name "search"`)
	})

	t.Run("duplicate key prefix would collide buckets", func(t *testing.T) {
		_, err := NewRegistry(
			Profile{Name: "upload", MaxRequests: 10, Window: 10 * time.Minute, KeyPrefix: "shared", Identification: ModeIP},
			Profile{Name: "download", MaxRequests: 20, Window: 10 * time.Minute, KeyPrefix: "shared", Identification: ModeIP},
		)
		require.Error(t, err)
		require.Contains(t, err.Error(), `same key prefix "shared"`)
	})

	t.Run("unknown profile lookup", func(t *testing.T) {
		reg := MustNewRegistry()
		_, err := reg.Lookup("nope")
		require.Error(t, err)
		require.Contains(t, err.Error(), `unknown rate limit profile "nope"`)
	})
}

func TestMustNewRegistryPanicsOnInvalid(t *testing.T) {
	require.Panics(t, func() {
		MustNewRegistry(Profile{Name: "x", MaxRequests: 1, Window: time.Second, KeyPrefix: ""})
	})
}

func TestDefaultProfilesAreValid(t *testing.T) {
	reg, err := NewRegistry(DefaultProfiles()...)
	require.NoError(t, err)

	p, err := reg.Lookup(ProfileDataDeletion)
	require.NoError(t, err)
	require.Equal(t, 3, p.MaxRequests)
	require.Equal(t, 24*time.Hour, p.Window)
	require.Equal(t, ModeSession, p.Identification)
}
