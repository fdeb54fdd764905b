package store

import (
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

// MatchRecord is the persisted shape of a match. Times are unix milliseconds.
// WaitingQuizId, OpenStatus, Conn1 and Conn2 are sparse keys for the DynamoDB
// secondary indexes: WaitingQuizId is set only while the match waits for an
// opponent, the others only while the match is open.
type MatchRecord struct {
	MatchId        string              `dynamodbav:"MatchId" json:"matchId"`
	QuizId         string              `dynamodbav:"QuizId" json:"quizId"`
	QuizTitle      string              `dynamodbav:"QuizTitle,omitempty" json:"quizTitle,omitempty"`
	Questions      []entities.Question `dynamodbav:"Questions" json:"questions"`
	TotalQuestions int                 `dynamodbav:"TotalQuestions" json:"totalQuestions"`
	Status         string              `dynamodbav:"Status" json:"status"`
	Player1        PlayerRecord        `dynamodbav:"Player1" json:"player1"`
	Player2        *PlayerRecord       `dynamodbav:"Player2,omitempty" json:"player2,omitempty"`
	Winner         *string             `dynamodbav:"Winner,omitempty" json:"winner,omitempty"`
	EndReason      string              `dynamodbav:"EndReason,omitempty" json:"endReason,omitempty"`
	ForfeitedBy    string              `dynamodbav:"ForfeitedBy,omitempty" json:"forfeitedBy,omitempty"`
	WaitingQuizId  string              `dynamodbav:"WaitingQuizId,omitempty" json:"-"`
	OpenStatus     string              `dynamodbav:"OpenStatus,omitempty" json:"-"`
	Conn1          string              `dynamodbav:"Conn1,omitempty" json:"-"`
	Conn2          string              `dynamodbav:"Conn2,omitempty" json:"-"`
	CreatedAt      int64               `dynamodbav:"CreatedAt" json:"createdAt"`
	StartedAt      *int64              `dynamodbav:"StartedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt    *int64              `dynamodbav:"CompletedAt,omitempty" json:"completedAt,omitempty"`
}

type PlayerRecord struct {
	UserId         string         `dynamodbav:"UserId" json:"userId"`
	ConnectionRef  string         `dynamodbav:"ConnectionRef" json:"connectionRef"`
	DisplayName    string         `dynamodbav:"DisplayName" json:"displayName"`
	Avatar         string         `dynamodbav:"Avatar" json:"avatar"`
	Score          int            `dynamodbav:"Score" json:"score"`
	CorrectAnswers int            `dynamodbav:"CorrectAnswers" json:"correctAnswers"`
	TotalTimeMs    int64          `dynamodbav:"TotalTimeMs" json:"totalTimeMs"`
	Answers        []AnswerRecord `dynamodbav:"Answers" json:"answers"`
	IsReady        bool           `dynamodbav:"IsReady" json:"isReady"`
	IsActive       bool           `dynamodbav:"IsActive" json:"isActive"`
}

type AnswerRecord struct {
	QuestionIndex int    `dynamodbav:"QuestionIndex" json:"questionIndex"`
	AnswerValue   string `dynamodbav:"AnswerValue" json:"answerValue"`
	IsCorrect     bool   `dynamodbav:"IsCorrect" json:"isCorrect"`
	TimeSpentMs   int64  `dynamodbav:"TimeSpentMs" json:"timeSpentMs"`
	RecordedAt    int64  `dynamodbav:"RecordedAt" json:"recordedAt"`
}

func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func MatchRecordFromEntity(m entities.Match) MatchRecord {
	rec := MatchRecord{
		MatchId:        m.MatchId,
		QuizId:         m.QuizId,
		QuizTitle:      m.QuizTitle,
		Questions:      m.Questions,
		TotalQuestions: m.TotalQuestions,
		Status:         m.Status.String(),
		Player1:        PlayerRecordFromEntity(m.Player1),
		EndReason:      string(m.EndReason),
		ForfeitedBy:    m.ForfeitedBy,
		CreatedAt:      ToMillis(m.CreatedAt),
	}
	if p2, ok := m.Player2.Player(); ok {
		p := PlayerRecordFromEntity(p2)
		rec.Player2 = &p
	} else if m.Status == entities.StatusWaiting {
		rec.WaitingQuizId = m.QuizId
	}
	if m.Status.IsOpen() {
		rec.OpenStatus = m.Status.String()
		rec.Conn1 = m.Player1.ConnectionRef
		if rec.Player2 != nil {
			rec.Conn2 = rec.Player2.ConnectionRef
		}
	}
	if m.Winner != nil {
		w := *m.Winner
		rec.Winner = &w
	}
	if m.StartedAt != nil {
		ms := ToMillis(*m.StartedAt)
		rec.StartedAt = &ms
	}
	if m.CompletedAt != nil {
		ms := ToMillis(*m.CompletedAt)
		rec.CompletedAt = &ms
	}
	return rec
}

func PlayerRecordFromEntity(p entities.PlayerState) PlayerRecord {
	answers := make([]AnswerRecord, 0, len(p.Answers))
	for _, a := range p.Answers {
		answers = append(answers, AnswerRecordFromEntity(a))
	}
	return PlayerRecord{
		UserId:         p.UserId,
		ConnectionRef:  p.ConnectionRef,
		DisplayName:    p.DisplayName,
		Avatar:         p.Avatar,
		Score:          p.Score,
		CorrectAnswers: p.CorrectAnswers,
		TotalTimeMs:    p.TotalTimeMs,
		Answers:        answers,
		IsReady:        p.IsReady,
		IsActive:       p.IsActive,
	}
}

func AnswerRecordFromEntity(a entities.AnswerRecord) AnswerRecord {
	return AnswerRecord{
		QuestionIndex: a.QuestionIndex,
		AnswerValue:   a.AnswerValue,
		IsCorrect:     a.IsCorrect,
		TimeSpentMs:   a.TimeSpentMs,
		RecordedAt:    ToMillis(a.RecordedAt),
	}
}

func (r MatchRecord) ToEntity() entities.Match {
	m := entities.Match{
		MatchId:        r.MatchId,
		QuizId:         r.QuizId,
		QuizTitle:      r.QuizTitle,
		Questions:      r.Questions,
		TotalQuestions: r.TotalQuestions,
		Status:         entities.Status(r.Status),
		Player1:        r.Player1.ToEntity(),
		Player2:        entities.Unpaired(),
		EndReason:      entities.EndReason(r.EndReason),
		ForfeitedBy:    r.ForfeitedBy,
		CreatedAt:      FromMillis(r.CreatedAt),
	}
	if r.Player2 != nil {
		m.Player2 = entities.Paired(r.Player2.ToEntity())
	}
	if r.Winner != nil {
		w := *r.Winner
		m.Winner = &w
	}
	if r.StartedAt != nil {
		t := FromMillis(*r.StartedAt)
		m.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := FromMillis(*r.CompletedAt)
		m.CompletedAt = &t
	}
	return m
}

func (r PlayerRecord) ToEntity() entities.PlayerState {
	answers := make([]entities.AnswerRecord, 0, len(r.Answers))
	for _, a := range r.Answers {
		answers = append(answers, entities.AnswerRecord{
			QuestionIndex: a.QuestionIndex,
			AnswerValue:   a.AnswerValue,
			IsCorrect:     a.IsCorrect,
			TimeSpentMs:   a.TimeSpentMs,
			RecordedAt:    FromMillis(a.RecordedAt),
		})
	}
	return entities.PlayerState{
		UserId:         r.UserId,
		ConnectionRef:  r.ConnectionRef,
		DisplayName:    r.DisplayName,
		Avatar:         r.Avatar,
		Score:          r.Score,
		CorrectAnswers: r.CorrectAnswers,
		TotalTimeMs:    r.TotalTimeMs,
		Answers:        answers,
		IsReady:        r.IsReady,
		IsActive:       r.IsActive,
	}
}
