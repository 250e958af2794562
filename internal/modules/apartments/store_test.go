package apartments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeRequiresKeys(t *testing.T) {
	_, err := Decode("0", "42", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingGuild)
	_, err = Decode("1", "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingUser)
	_, err = Decode("1", "0", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestDecodeDefaults(t *testing.T) {
	s, err := Decode("1", "42", []byte(`{"banned_users": [5, "6"], "instruction_message_id": null}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultName, s.Name)
	assert.Equal(t, 0, s.UserLimit)
	assert.False(t, s.Locked)
	assert.Equal(t, map[string]struct{}{"5": {}, "6": {}}, s.Banned)
	assert.Empty(t, s.Allowed)
	assert.Empty(t, s.InstructionMessageID)

	_, err = Decode("1", "42", []byte(`{"banned_users": ["abc"]}`))
	assert.Error(t, err)
}

func TestEncodeWritesNumbers(t *testing.T) {
	s := NewSettings("1", "42")
	s.Banned["900"] = struct{}{}
	s.Banned["12"] = struct{}{}
	s.InstructionMessageID = "777"
	s.ActiveChannelID = "555"
	raw, err := Encode(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Apartment","user_limit":0,"locked":false,"banned_users":[12,900],"allowed_users":[],"instruction_message_id":777}`, string(raw))
}

func TestSettingsRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)
	ids := gen.SliceOf(gen.UInt64Range(1, 1<<62))
	properties.Property("decode inverts encode", prop.ForAll(
		func(name string, limit int, locked bool, banned, allowed []uint64, instruction uint64) bool {
			s := NewSettings("10", "20")
			s.Name = name
			s.UserLimit = limit
			s.Locked = locked
			for _, id := range banned {
				s.Banned[strconv.FormatUint(id, 10)] = struct{}{}
			}
			for _, id := range allowed {
				s.Allowed[strconv.FormatUint(id, 10)] = struct{}{}
			}
			if instruction > 0 {
				s.InstructionMessageID = strconv.FormatUint(instruction, 10)
			}
			raw, err := Encode(s)
			if err != nil {
				return false
			}
			back, err := Decode("10", "20", raw)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(s, back)
		},
		gen.AlphaString(),
		gen.IntRange(0, 99),
		gen.Bool(),
		ids,
		ids,
		gen.UInt64Range(0, 1<<62),
	))
	properties.TestingRun(t)
}

func TestStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartment_rooms.json")
	store := NewStore(path, zap.NewNop())
	s := store.GetOrCreate("100", "42")
	s.Name = "Den"
	s.UserLimit = 4
	s.Banned["7"] = struct{}{}
	store.Activate(s, "555")
	store.Save()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc["100"]["42"], "active_channel_id")

	loaded := NewStore(path, zap.NewNop())
	require.NoError(t, loaded.Load())
	got, ok := loaded.Get("100", "42")
	require.True(t, ok)
	assert.Equal(t, "Den", got.Name)
	assert.Equal(t, 4, got.UserLimit)
	assert.Empty(t, got.ActiveChannelID)
	_, ok = loaded.ByChannel("555")
	assert.False(t, ok)
	owned, ok := loaded.Owned("42")
	require.True(t, ok)
	assert.Same(t, got, owned)
}

func TestStoreLoadSkipsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartment_rooms.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// the zero key is rejected
		"0": {"42": {"name": "Ghost"}},
		"100": {"42": {"name": "Den"}, "43": {"user_limit": "x"}},
	}`), 0o644))
	store := NewStore(path, zap.NewNop())
	require.NoError(t, store.Load())
	_, ok := store.Get("0", "42")
	assert.False(t, ok)
	_, ok = store.Get("100", "43")
	assert.False(t, ok)
	s, ok := store.Get("100", "42")
	require.True(t, ok)
	assert.Equal(t, "Den", s.Name)
}
