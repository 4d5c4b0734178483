package service

import (
	"sort"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/pkg/werewolf"
)

// Project builds the viewer-redacted wire snapshot of a match. The only
// role ever disclosed is the viewer's own; everything else a client knows
// about roles it must deduce by playing.
func Project(m *model.Match, viewerID string) *model.MatchSnapshot {
	s := &model.MatchSnapshot{
		ID:      m.ID,
		State:   m.State,
		Round:   m.Round,
		Winner:  m.Winner,
		Version: m.Version,
	}

	if m.State.Timed() && !m.PhaseDeadline.IsZero() {
		deadline := m.PhaseDeadline
		s.PhaseEndsAt = &deadline
	}

	s.Players = make([]model.PlayerView, 0, len(m.Players))
	for _, p := range m.Players {
		view := model.PlayerView{
			ID:    p.ID,
			Name:  p.DisplayName,
			Alive: p.Alive,
		}
		if p.ID == viewerID && p.Role != "" {
			view.RoleSelf = p.Role
		}
		s.Players = append(s.Players, view)
	}

	// The running tally is public only while the village votes, and kept
	// on the terminal snapshot for the post-game screen. Night
	// designations are never projected.
	if m.State == werewolf.PhaseVote || m.State == werewolf.PhaseEnd {
		s.Tally = projectTally(m)
	}
	return s
}

func projectTally(m *model.Match) []model.TallyEntry {
	counts := make(map[string]int)
	seen := make(map[string]string)
	for _, b := range m.Ballots {
		if b.Round != m.Round {
			continue
		}
		if prev, ok := seen[b.VoterID]; ok {
			counts[prev]--
		}
		seen[b.VoterID] = b.TargetID
		counts[b.TargetID]++
	}

	entries := make([]model.TallyEntry, 0, len(counts))
	for target, count := range counts {
		if count > 0 {
			entries = append(entries, model.TallyEntry{TargetID: target, Count: count})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].TargetID < entries[j].TargetID
	})
	return entries
}
