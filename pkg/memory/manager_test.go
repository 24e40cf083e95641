package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticPersona(prompt string) PersonaResolver {
	return PersonaFunc(func(userID, displayName string) (string, error) {
		return fmt.Sprintf(prompt, displayName), nil
	})
}

func TestGetHistory_EmptyOnFirstAccess(t *testing.T) {
	m := NewManager(10, nil)

	h := m.GetHistory("u1")
	require.NotNil(t, h)
	assert.Empty(t, h)
	assert.Equal(t, Stats{Users: 1}, m.Stats())
}

func TestGetHistory_ReturnsCopy(t *testing.T) {
	m := NewManager(10, nil)
	require.NoError(t, m.AppendTurn("u1", RoleUser, "hello"))

	h := m.GetHistory("u1")
	h[0].Content = "mutated"

	again := m.GetHistory("u1")
	require.Len(t, again, 1)
	assert.Equal(t, "hello", again[0].Content)
}

func TestAppendTurn_RejectsSystemAndUnknownRoles(t *testing.T) {
	m := NewManager(10, nil)
	require.NoError(t, m.AppendTurn("u1", RoleUser, "hi"))

	err := m.AppendTurn("u1", RoleSystem, "you are a bot")
	assert.True(t, errors.Is(err, ErrInvalidRole))

	err = m.AppendTurn("u1", Role("tool"), "{}")
	assert.True(t, errors.Is(err, ErrInvalidRole))

	assert.Equal(t, []Turn{{Role: RoleUser, Content: "hi"}}, m.GetHistory("u1"))
}

func TestAppendTurn_TrimsOldestFirst(t *testing.T) {
	m := NewManager(10, nil)

	var want []Turn
	for i := 1; i <= 12; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		content := fmt.Sprintf("turn %d", i)
		require.NoError(t, m.AppendTurn("u1", role, content))
		if i >= 3 {
			want = append(want, Turn{Role: role, Content: content})
		}
		assert.LessOrEqual(t, len(m.GetHistory("u1")), 10)
	}

	assert.Equal(t, want, m.GetHistory("u1"))
}

func TestAppendTurn_BoundHoldsForAnySize(t *testing.T) {
	for _, max := range []int{1, 2, 10, 30, 40} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			m := NewManager(max, nil)
			total := max*3 + 1
			for i := 0; i < total; i++ {
				require.NoError(t, m.AppendTurn("u", RoleUser, fmt.Sprint(i)))
			}
			h := m.GetHistory("u")
			require.Len(t, h, max)
			assert.Equal(t, fmt.Sprint(total-max), h[0].Content)
			assert.Equal(t, fmt.Sprint(total-1), h[max-1].Content)
		})
	}
}

func TestNewManager_DefaultsMaxTurns(t *testing.T) {
	assert.Equal(t, DefaultMaxTurns, NewManager(0, nil).MaxTurns())
}

func TestResetHistory_EquivalentToNeverSeen(t *testing.T) {
	m := NewManager(10, nil)
	require.NoError(t, m.AppendTurn("u1", RoleUser, "a"))
	require.NoError(t, m.AppendTurn("u1", RoleAssistant, "b"))

	m.ResetHistory("u1")
	assert.Equal(t, Stats{}, m.Stats())
	assert.Empty(t, m.GetHistory("u1"))

	m.ResetHistory("never-seen")
	assert.Equal(t, 1, m.Stats().Users)
}

func TestResetHistory_IsolatedPerUser(t *testing.T) {
	m := NewManager(10, nil)
	require.NoError(t, m.AppendTurn("u1", RoleUser, "a"))
	require.NoError(t, m.AppendTurn("u2", RoleUser, "b"))

	m.ResetHistory("u1")
	assert.Equal(t, []Turn{{Role: RoleUser, Content: "b"}}, m.GetHistory("u2"))
}

func TestBuildModelRequest_PrependsSystemTurn(t *testing.T) {
	m := NewManager(10, staticPersona("talk to %s"))
	require.NoError(t, m.AppendTurn("u1", RoleUser, "hey"))

	req, err := m.BuildModelRequest("u1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []Turn{
		{Role: RoleSystem, Content: "talk to Bob"},
		{Role: RoleUser, Content: "hey"},
	}, req)

	// the system turn is never stored
	assert.Len(t, m.GetHistory("u1"), 1)
}

func TestBuildModelRequest_TrimmedHistoryKeepsSystemTurn(t *testing.T) {
	m := NewManager(2, staticPersona("p %s"))
	for _, c := range []string{"1", "2", "3"} {
		require.NoError(t, m.AppendTurn("u1", RoleUser, c))
	}

	req, err := m.BuildModelRequest("u1", "x")
	require.NoError(t, err)
	require.Len(t, req, 3)
	assert.Equal(t, RoleSystem, req[0].Role)
	assert.Equal(t, "2", req[1].Content)
	assert.Equal(t, "3", req[2].Content)
}

func TestBuildModelRequest_PersonaError(t *testing.T) {
	m := NewManager(10, PersonaFunc(func(string, string) (string, error) {
		return "", errors.New("boom")
	}))
	_, err := m.BuildModelRequest("u1", "x")
	assert.ErrorContains(t, err, "boom")
}

func TestManager_ConcurrentUsers(t *testing.T) {
	m := NewManager(5, staticPersona("%s"))
	var wg sync.WaitGroup
	for u := 0; u < 16; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", u)
			for i := 0; i < 50; i++ {
				_ = m.AppendTurn(id, RoleUser, "x")
				_, _ = m.BuildModelRequest(id, id)
				if i%17 == 0 {
					m.ResetHistory(id)
				}
			}
		}(u)
	}
	wg.Wait()

	for u := 0; u < 16; u++ {
		assert.LessOrEqual(t, len(m.GetHistory(fmt.Sprintf("u%d", u))), 5)
	}
}
