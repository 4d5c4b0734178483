package werewolf

import (
	"math/rand"
	"testing"
)

func TestWolfCount(t *testing.T) {
	tests := []struct {
		players int
		want    int
	}{
		{2, 1}, // clamp: at least one villager
		{3, 1},
		{4, 1},
		{5, 1},
		{6, 2},
		{8, 2},
		{9, 3},
		{11, 3},
		{12, 4},
	}
	for _, tt := range tests {
		if got := WolfCount(tt.players); got != tt.want {
			t.Errorf("WolfCount(%d) = %d, want %d", tt.players, got, tt.want)
		}
	}
}

func TestAssignRolesEveryPlayerGetsOneRole(t *testing.T) {
	for n := MinPlayers; n <= MaxPlayers; n++ {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		roles := AssignRoles(ids, rand.New(rand.NewSource(int64(n))))
		if len(roles) != n {
			t.Fatalf("n=%d: got %d assignments", n, len(roles))
		}
		wolves := 0
		for _, id := range ids {
			switch roles[id] {
			case RoleWolf:
				wolves++
			case RoleVillager:
			default:
				t.Fatalf("n=%d: player %s has no role", n, id)
			}
		}
		if wolves != WolfCount(n) {
			t.Errorf("n=%d: %d wolves, want %d", n, wolves, WolfCount(n))
		}
	}
}

func TestAssignRolesDeterministicWithFixedSeed(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	first := AssignRoles(ids, rand.New(rand.NewSource(42)))
	second := AssignRoles(ids, rand.New(rand.NewSource(42)))
	for _, id := range ids {
		if first[id] != second[id] {
			t.Fatalf("same seed gave different roles for %s: %s vs %s", id, first[id], second[id])
		}
	}
}

func TestAssignRolesDoesNotMutateInput(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4"}
	AssignRoles(ids, rand.New(rand.NewSource(7)))
	want := []string{"p1", "p2", "p3", "p4"}
	for i := range ids {
		if ids[i] != want[i] {
			t.Fatalf("input slice reordered: %v", ids)
		}
	}
}
