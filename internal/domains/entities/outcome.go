package entities

// DecideWinner orders two final standings: higher score wins, then lower
// total time. It returns false for an exact tie.
func DecideWinner(score1 int, timeMs1 int64, score2 int, timeMs2 int64) (Role, bool) {
	switch {
	case score1 > score2:
		return RolePlayer1, true
	case score2 > score1:
		return RolePlayer2, true
	case timeMs1 < timeMs2:
		return RolePlayer1, true
	case timeMs2 < timeMs1:
		return RolePlayer2, true
	default:
		return "", false
	}
}

// WinnerId applies DecideWinner to the match participants.
// It returns nil for a draw or when the match is not paired.
func (m Match) WinnerId() *string {
	p2, ok := m.Player2.Player()
	if !ok {
		return nil
	}
	role, decided := DecideWinner(m.Player1.Score, m.Player1.TotalTimeMs, p2.Score, p2.TotalTimeMs)
	if !decided {
		return nil
	}
	if role == RolePlayer1 {
		id := m.Player1.UserId
		return &id
	}
	id := p2.UserId
	return &id
}
