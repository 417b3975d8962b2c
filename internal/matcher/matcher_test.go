package matcher

import (
	"testing"

	"github.com/loykin/rigwatch/internal/process"
	"github.com/stretchr/testify/assert"
)

func TestMarkers(t *testing.T) {
	cases := []struct {
		name string
		kind process.Kind
		text string
		want process.State
		hit  bool
	}{
		{"xmrig new job", process.KindXmrig, "[2024-01-01] net new job from pool:3333 diff 1000", process.StateAlive, true},
		{"xmrig idle", process.KindXmrig, "net no active pools, stop mining", process.StateNotMining, true},
		{"xmrig alive wins over idle", process.KindXmrig, "no active pools\nnew job from pool", process.StateAlive, true},
		{"xmrig noise", process.KindXmrig, "cpu use argon2 implementation AVX2", 0, false},
		{"proxy accepted", process.KindProxy, "accepted (1/0) diff 10000", process.StateAlive, true},
		{"proxy idle", process.KindProxy, "no active pools", process.StateNotMining, true},
		{"node synced", process.KindNode, "You are now synchronized with the network", process.StateAlive, true},
		{"node syncing", process.KindNode, "Synced 3100000/3150000 (98%)", process.StateSyncing, true},
		{"p2pool synced", process.KindP2Pool, "SideChain SYNCHRONIZED", process.StateAlive, true},
		{"p2pool lost node", process.KindP2Pool, "P2Pool couldn't connect to monerod", process.StateSyncing, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := For(c.kind).Match(c.text)
			assert.Equal(t, c.hit, ok)
			if c.hit {
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestForKindWithoutOutput(t *testing.T) {
	assert.Nil(t, For(process.KindXvb))
}
