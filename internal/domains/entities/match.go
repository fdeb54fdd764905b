package entities

import (
	"time"
)

type (
	Status    string
	Role      string
	EndReason string
)

const (
	StatusWaiting   Status = "waiting"
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"

	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"

	EndReasonFinished EndReason = "finished"
	EndReasonForfeit  EndReason = "forfeit"
)

// IsOpen reports whether the match can still be mutated.
func (s Status) IsOpen() bool {
	switch s {
	case StatusWaiting, StatusReady, StatusActive:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

func (r Role) Other() Role {
	if r == RolePlayer1 {
		return RolePlayer2
	}
	return RolePlayer1
}

func (r Role) String() string {
	return string(r)
}

// AnswerRecord is immutable once appended to a player's answer log.
type AnswerRecord struct {
	QuestionIndex int
	AnswerValue   string
	IsCorrect     bool
	TimeSpentMs   int64
	RecordedAt    time.Time
}

type PlayerState struct {
	UserId         string
	ConnectionRef  string
	DisplayName    string
	Avatar         string
	Score          int
	CorrectAnswers int
	TotalTimeMs    int64
	Answers        []AnswerRecord
	IsReady        bool
	IsActive       bool
}

func NewPlayerState(userId, connectionRef, displayName, avatar string) PlayerState {
	return PlayerState{
		UserId:        userId,
		ConnectionRef: connectionRef,
		DisplayName:   displayName,
		Avatar:        avatar,
		Answers:       []AnswerRecord{},
		IsActive:      true,
	}
}

// Cursor is the index of the next question this player must answer.
func (p PlayerState) Cursor() int {
	return len(p.Answers)
}

func (p PlayerState) clone() PlayerState {
	answers := make([]AnswerRecord, len(p.Answers))
	copy(answers, p.Answers)
	p.Answers = answers
	return p
}

// Slot holds the second participant. A zero Slot is unpaired.
type Slot struct {
	player PlayerState
	paired bool
}

func Unpaired() Slot {
	return Slot{}
}

func Paired(player PlayerState) Slot {
	return Slot{player: player, paired: true}
}

func (s Slot) Player() (PlayerState, bool) {
	return s.player, s.paired
}

func (s Slot) IsPaired() bool {
	return s.paired
}

type Match struct {
	MatchId   string
	QuizId    string
	QuizTitle string
	// Questions is the quiz as it was when the match was created. Answers
	// are graded against it, never against the live quiz source.
	Questions      []Question
	TotalQuestions int
	Status         Status
	Player1        PlayerState
	Player2        Slot
	Winner         *string
	EndReason      EndReason
	ForfeitedBy    string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func NewMatch(matchId string, quiz Quiz, player1 PlayerState, createdAt time.Time) Match {
	questions := make([]Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	return Match{
		MatchId:        matchId,
		QuizId:         quiz.Id,
		QuizTitle:      quiz.Title,
		Questions:      questions,
		TotalQuestions: len(questions),
		Status:         StatusWaiting,
		Player1:        player1,
		Player2:        Unpaired(),
		CreatedAt:      createdAt,
	}
}

// Clone returns a deep copy so callers never share answer slices. The
// question snapshot is shared; nothing mutates it after creation.
func (m Match) Clone() Match {
	m.Player1 = m.Player1.clone()
	if m.Player2.paired {
		m.Player2.player = m.Player2.player.clone()
	}
	if m.Winner != nil {
		w := *m.Winner
		m.Winner = &w
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		m.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		m.CompletedAt = &t
	}
	return m
}

func (m Match) Player(role Role) (PlayerState, bool) {
	switch role {
	case RolePlayer1:
		return m.Player1, true
	case RolePlayer2:
		return m.Player2.Player()
	}
	return PlayerState{}, false
}

func (m Match) Opponent(role Role) (PlayerState, bool) {
	return m.Player(role.Other())
}

func (m Match) RoleOf(userId string) (Role, bool) {
	if userId == "" {
		return "", false
	}
	if m.Player1.UserId == userId {
		return RolePlayer1, true
	}
	if p2, ok := m.Player2.Player(); ok && p2.UserId == userId {
		return RolePlayer2, true
	}
	return "", false
}

func (m Match) RoleOfConnection(connectionRef string) (Role, bool) {
	if connectionRef == "" {
		return "", false
	}
	if m.Player1.ConnectionRef == connectionRef {
		return RolePlayer1, true
	}
	if p2, ok := m.Player2.Player(); ok && p2.ConnectionRef == connectionRef {
		return RolePlayer2, true
	}
	return "", false
}

// Quiz rebuilds the question snapshot taken at creation.
func (m Match) Quiz() Quiz {
	return Quiz{Id: m.QuizId, Title: m.QuizTitle, Questions: m.Questions}
}

// Question returns the snapshot question at index.
func (m Match) Question(index int) (Question, bool) {
	if index < 0 || index >= len(m.Questions) {
		return Question{}, false
	}
	return m.Questions[index], true
}

// BothFinished reports whether both participants answered every question.
func (m Match) BothFinished() bool {
	p2, ok := m.Player2.Player()
	if !ok {
		return false
	}
	return m.Player1.Cursor() >= m.TotalQuestions && p2.Cursor() >= m.TotalQuestions
}

func (m *Match) player(role Role) *PlayerState {
	switch role {
	case RolePlayer1:
		return &m.Player1
	case RolePlayer2:
		if m.Player2.paired {
			return &m.Player2.player
		}
	}
	return nil
}
