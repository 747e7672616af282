package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	var pushes int
	r.Subscribe(func([]int64) { pushes++ })

	r.Register(1, "a")
	r.Register(1, "a")

	require.Equal(t, []int64{1}, r.OnlineUserIDs())
	require.Equal(t, []string{"a"}, r.Connections(1))
	require.Equal(t, 1, pushes)
}

func TestMultiDevicePresence(t *testing.T) {
	r := NewRegistry()
	r.Register(7, "phone")
	r.Register(7, "laptop")
	require.True(t, r.IsOnline(7))

	r.Unregister("phone")
	require.True(t, r.IsOnline(7))

	r.Unregister("laptop")
	require.False(t, r.IsOnline(7))
	require.Empty(t, r.OnlineUserIDs())
}

func TestUnregisterUnknownConnection(t *testing.T) {
	r := NewRegistry()
	var pushes int
	r.Subscribe(func([]int64) { pushes++ })

	r.Unregister("ghost")
	require.Zero(t, pushes)
}

func TestRegisterMovesConnection(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "c")
	r.Register(2, "c")

	require.False(t, r.IsOnline(1))
	require.True(t, r.IsOnline(2))
	uid, ok := r.UserOf("c")
	require.True(t, ok)
	require.EqualValues(t, 2, uid)
}

func TestObserverReceivesSnapshots(t *testing.T) {
	r := NewRegistry()
	var got [][]int64
	r.Subscribe(func(ids []int64) { got = append(got, ids) })

	r.Register(2, "x")
	r.Register(1, "y")
	r.Unregister("x")

	require.Equal(t, [][]int64{{2}, {1, 2}, {1}}, got)
}

// model is the reference: the distinct users that still own a live connection.
func expectedOnline(model map[string]int64) []int64 {
	seen := map[int64]struct{}{}
	for _, uid := range model {
		seen[uid] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestOnlineSetMatchesLiveConnections(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		r := NewRegistry()
		model := map[string]int64{}
		for step := 0; step < 200; step++ {
			conn := fmt.Sprintf("c%d", rng.Intn(12))
			if rng.Intn(3) == 0 {
				r.Unregister(conn)
				delete(model, conn)
			} else {
				uid := int64(rng.Intn(5) + 1)
				r.Register(uid, conn)
				model[conn] = uid
			}
			require.Equal(t, expectedOnline(model), r.OnlineUserIDs(), "run %d step %d", run, step)
		}
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", i)
			r.Register(int64(i%8), conn)
			if i%2 == 0 {
				r.Unregister(conn)
			}
		}(i)
	}
	wg.Wait()

	// odd connections survive, and odd i%8 values are the users that own them
	require.Equal(t, []int64{1, 3, 5, 7}, r.OnlineUserIDs())
}
