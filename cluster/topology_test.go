package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostTypeNames(t *testing.T) {
	for _, ht := range []HostType{Primary, SyncReplica, Replica, ReplicaOrPrimary} {
		parsed, err := ParseHostType(ht.String())
		require.NoError(t, err)
		assert.Equal(t, ht, parsed)
	}

	parsed, err := ParseHostType(" Sync_Replica ")
	require.NoError(t, err)
	assert.Equal(t, SyncReplica, parsed)

	_, err = ParseHostType("standby")
	assert.Error(t, err)

	assert.Equal(t, "host_type(42)", HostType(42).String())
	_, err = HostType(0).MarshalText()
	assert.Error(t, err)
}

func TestHostsByTypeJSONKeys(t *testing.T) {
	hosts := HostsByType{Primary: {dsnP}, Replica: {dsnA}}
	data, err := json.Marshal(hosts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"primary":["`+dsnP+`"],"replica":["`+dsnA+`"]}`, string(data))

	var decoded HostsByType
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, hosts.Equal(decoded))
}

func TestHostsByTypeNormalize(t *testing.T) {
	hosts := HostsByType{
		Primary:          {dsnP, dsnP},
		SyncReplica:      {dsnB},
		Replica:          {dsnC, dsnA},
		ReplicaOrPrimary: {dsnA},
	}
	normalized := hosts.normalize()

	assert.Equal(t, HostsByType{
		Primary:     {dsnP},
		SyncReplica: {dsnB},
		Replica:     {dsnA, dsnB, dsnC},
	}, normalized)
	// the receiver is left alone
	assert.Equal(t, []string{dsnC, dsnA}, hosts[Replica])

	empty := HostsByType{Replica: {}}.normalize()
	assert.Empty(t, empty)
	assert.True(t, empty.Empty())
}

func TestHostsByTypeEqual(t *testing.T) {
	a := HostsByType{Primary: {dsnP}, SyncReplica: {dsnA}}
	b := HostsByType{Primary: {dsnP}, SyncReplica: {dsnA}, Replica: {dsnA}}
	assert.True(t, a.Equal(b))

	c := HostsByType{Primary: {dsnP}, Replica: {dsnA}}
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(HostsByType{}))
	assert.True(t, HostsByType{}.Equal(nil))
}

func TestHostsByTypeCandidates(t *testing.T) {
	hosts := HostsByType{Primary: {dsnP}, Replica: {dsnA, dsnB}}.normalize()
	assert.Equal(t, []string{dsnA, dsnB}, hosts.candidates(ReplicaOrPrimary))
	assert.Equal(t, []string{dsnP}, hosts.candidates(Primary))
	assert.Empty(t, hosts.candidates(SyncReplica))

	primaryOnly := HostsByType{Primary: {dsnP}}
	assert.Equal(t, []string{dsnP}, primaryOnly.candidates(ReplicaOrPrimary))
	assert.Empty(t, HostsByType{}.candidates(ReplicaOrPrimary))
}

func TestHostsByTypeCloneAndDSNs(t *testing.T) {
	hosts := HostsByType{Primary: {dsnP}, SyncReplica: {dsnA}, Replica: {dsnA, dsnB}}
	clone := hosts.Clone()
	clone[Primary][0] = dsnC
	assert.Equal(t, dsnP, hosts[Primary][0])

	assert.Equal(t, []string{dsnA, dsnB, dsnP}, hosts.DSNs())
	assert.Equal(t, SyncReplica, hosts.roleOf(dsnA))
	assert.Equal(t, Replica, hosts.roleOf(dsnB))
	assert.Equal(t, HostType(0), hosts.roleOf(dsnC))
}
