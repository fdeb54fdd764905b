package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/store"
)

var _ duel.Store = (*Client)(nil)

// removeOpenKeys drops a finished match out of the sparse open indexes.
const removeOpenKeys = "REMOVE OpenStatus, Conn1, Conn2"

// matchUpdate is one conditional UpdateItem. apply is the entity transition
// the expressions encode; it is replayed on the rejected pre-image to explain
// why the condition failed.
type matchUpdate struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
	apply     func(*entities.Match) error
}

func (client *Client) CreateMatch(ctx context.Context, match entities.Match) error {
	av, err := attributevalue.MarshalMap(store.MatchRecordFromEntity(match))
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}
	_, err = client.dynamodb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           client.cfg.MatchesTableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(MatchId)"),
	})
	if err != nil {
		if _, ok := conditionFailed(err); ok {
			return store.ErrMatchExists
		}
		return unavailable("put match", err)
	}
	return nil
}

func (client *Client) GetMatch(ctx context.Context, matchId string) (entities.Match, error) {
	output, err := client.dynamodb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      client.cfg.MatchesTableName,
		Key:            matchKey(matchId),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return entities.Match{}, unavailable("get match", err)
	}
	if output.Item == nil {
		return entities.Match{}, store.ErrMatchNotFound
	}
	return decodeMatch(output.Item)
}

// FindWaitingMatch walks the sparse waiting index for quizId, oldest first.
func (client *Client) FindWaitingMatch(ctx context.Context, quizId, excludeUserId string) (entities.Match, error) {
	var lastKey map[string]types.AttributeValue
	for {
		output, err := client.dynamodb.Query(ctx, &dynamodb.QueryInput{
			TableName:              client.cfg.MatchesTableName,
			IndexName:              aws.String(waitingQuizIndex),
			KeyConditionExpression: aws.String("WaitingQuizId = :quizId"),
			FilterExpression:       aws.String("Player1.UserId <> :userId AND attribute_not_exists(Player2)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":quizId": stringValue(quizId),
				":userId": stringValue(excludeUserId),
			},
			ExclusiveStartKey: lastKey,
			ScanIndexForward:  aws.Bool(true),
		})
		if err != nil {
			return entities.Match{}, unavailable("query waiting matches", err)
		}
		if len(output.Items) > 0 {
			return decodeMatch(output.Items[0])
		}
		if len(output.LastEvaluatedKey) == 0 {
			return entities.Match{}, store.ErrMatchNotFound
		}
		lastKey = output.LastEvaluatedKey
	}
}

func (client *Client) JoinMatch(ctx context.Context, matchId string, opponent entities.PlayerState) (entities.Match, error) {
	p2, err := attributevalue.Marshal(store.PlayerRecordFromEntity(opponent))
	if err != nil {
		return entities.Match{}, fmt.Errorf("failed to marshal player: %w", err)
	}
	values := map[string]types.AttributeValue{
		":player2": p2,
		":ready":   stringValue(entities.StatusReady.String()),
		":waiting": stringValue(entities.StatusWaiting.String()),
		":userId":  stringValue(opponent.UserId),
	}
	update := "SET Player2 = :player2, #status = :ready, OpenStatus = :ready"
	if opponent.ConnectionRef != "" {
		update += ", Conn2 = :conn"
		values[":conn"] = stringValue(opponent.ConnectionRef)
	}
	return client.updateMatch(ctx, matchId, matchUpdate{
		update:    update + " REMOVE WaitingQuizId",
		condition: "#status = :waiting AND attribute_not_exists(Player2) AND Player1.UserId <> :userId",
		values:    values,
		apply: func(m *entities.Match) error {
			return m.Join(opponent)
		},
	})
}

func (client *Client) DeleteWaitingMatch(ctx context.Context, matchId string) error {
	_, err := client.dynamodb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           client.cfg.MatchesTableName,
		Key:                                 matchKey(matchId),
		ConditionExpression:                 aws.String("attribute_exists(MatchId) AND #status = :waiting"),
		ExpressionAttributeNames:            map[string]string{"#status": "Status"},
		ExpressionAttributeValues:           map[string]types.AttributeValue{":waiting": stringValue(entities.StatusWaiting.String())},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	old, ok := conditionFailed(err)
	if !ok {
		return unavailable("delete match", err)
	}
	if old == nil {
		return store.ErrMatchNotFound
	}
	return fmt.Errorf("%w: %w", store.ErrConditionFailed, entities.ErrWrongStatus)
}

func (client *Client) SetReady(ctx context.Context, matchId string, role entities.Role) (entities.Match, error) {
	condition := "#status IN (:waiting, :ready)"
	if role == entities.RolePlayer2 {
		condition += " AND attribute_exists(Player2)"
	}
	return client.updateMatch(ctx, matchId, matchUpdate{
		update:    "SET #p.IsReady = :true",
		condition: condition,
		names:     map[string]string{"#p": playerAttr(role)},
		values: map[string]types.AttributeValue{
			":true":    boolValue(true),
			":waiting": stringValue(entities.StatusWaiting.String()),
			":ready":   stringValue(entities.StatusReady.String()),
		},
		apply: func(m *entities.Match) error {
			return m.MarkReady(role)
		},
	})
}

func (client *Client) ActivateMatch(ctx context.Context, matchId string, startedAt time.Time) (entities.Match, error) {
	return client.updateMatch(ctx, matchId, matchUpdate{
		update:    "SET #status = :active, OpenStatus = :active, StartedAt = :startedAt",
		condition: "#status = :ready AND Player1.IsReady = :true AND Player2.IsReady = :true",
		values: map[string]types.AttributeValue{
			":active":    stringValue(entities.StatusActive.String()),
			":ready":     stringValue(entities.StatusReady.String()),
			":true":      boolValue(true),
			":startedAt": numberValue(store.ToMillis(startedAt)),
		},
		apply: func(m *entities.Match) error {
			return m.Activate(startedAt)
		},
	})
}

// AppendAnswer appends to the player's answer list only while its length
// equals the submitted index, so each index is recorded at most once.
func (client *Client) AppendAnswer(
	ctx context.Context,
	matchId string,
	role entities.Role,
	record entities.AnswerRecord,
	points int,
) (entities.Match, error) {
	answer, err := attributevalue.Marshal([]store.AnswerRecord{store.AnswerRecordFromEntity(record)})
	if err != nil {
		return entities.Match{}, fmt.Errorf("failed to marshal answer: %w", err)
	}
	correct := int64(0)
	if record.IsCorrect {
		correct = 1
	}
	return client.updateMatch(ctx, matchId, matchUpdate{
		update: "SET #p.Answers = list_append(#p.Answers, :answer), " +
			"#p.Score = #p.Score + :points, " +
			"#p.CorrectAnswers = #p.CorrectAnswers + :correct, " +
			"#p.TotalTimeMs = #p.TotalTimeMs + :timeSpent",
		condition: "#status = :active AND #p.IsActive = :true AND size(#p.Answers) = :index AND TotalQuestions > :index",
		names:     map[string]string{"#p": playerAttr(role)},
		values: map[string]types.AttributeValue{
			":answer":    answer,
			":points":    numberValue(int64(points)),
			":correct":   numberValue(correct),
			":timeSpent": numberValue(record.TimeSpentMs),
			":active":    stringValue(entities.StatusActive.String()),
			":true":      boolValue(true),
			":index":     numberValue(int64(record.QuestionIndex)),
		},
		apply: func(m *entities.Match) error {
			return m.AppendAnswer(role, record, points)
		},
	})
}

func (client *Client) CompleteMatch(ctx context.Context, matchId string, winner *string, completedAt time.Time) (entities.Match, error) {
	update := "SET #status = :completed, EndReason = :finished, CompletedAt = :completedAt"
	condition := "#status = :active AND size(Player1.Answers) >= TotalQuestions AND size(Player2.Answers) >= TotalQuestions"
	values := map[string]types.AttributeValue{
		":completed":   stringValue(entities.StatusCompleted.String()),
		":finished":    stringValue(string(entities.EndReasonFinished)),
		":completedAt": numberValue(store.ToMillis(completedAt)),
		":active":      stringValue(entities.StatusActive.String()),
	}
	if winner != nil {
		update += ", Winner = :winner"
		condition += " AND (Player1.UserId = :winner OR Player2.UserId = :winner)"
		values[":winner"] = stringValue(*winner)
	}
	return client.updateMatch(ctx, matchId, matchUpdate{
		update:    update + " " + removeOpenKeys,
		condition: condition,
		values:    values,
		apply: func(m *entities.Match) error {
			return m.Complete(winner, completedAt)
		},
	})
}

// ForfeitMatch copies the opponent's user id into Winner within the same write.
// A match whose players both answered every question cannot be forfeited; it
// must be completed on score instead.
func (client *Client) ForfeitMatch(ctx context.Context, matchId string, role entities.Role, completedAt time.Time) (entities.Match, error) {
	return client.updateMatch(ctx, matchId, matchUpdate{
		update: "SET #status = :completed, #p.IsActive = :false, Winner = #o.UserId, " +
			"ForfeitedBy = #p.UserId, EndReason = :forfeit, CompletedAt = :completedAt " + removeOpenKeys,
		condition: "#status IN (:ready, :active) AND attribute_exists(Player2) AND " +
			"NOT (size(Player1.Answers) >= TotalQuestions AND size(Player2.Answers) >= TotalQuestions)",
		names: map[string]string{
			"#p": playerAttr(role),
			"#o": playerAttr(role.Other()),
		},
		values: map[string]types.AttributeValue{
			":completed":   stringValue(entities.StatusCompleted.String()),
			":false":       boolValue(false),
			":forfeit":     stringValue(string(entities.EndReasonForfeit)),
			":completedAt": numberValue(store.ToMillis(completedAt)),
			":ready":       stringValue(entities.StatusReady.String()),
			":active":      stringValue(entities.StatusActive.String()),
		},
		apply: func(m *entities.Match) error {
			return m.Forfeit(role, completedAt)
		},
	})
}

func (client *Client) RebindConnection(ctx context.Context, matchId string, role entities.Role, connectionRef string) (entities.Match, error) {
	if connectionRef == "" {
		return entities.Match{}, fmt.Errorf("%w: %w", store.ErrConditionFailed, entities.ErrMissingConnectionId)
	}
	return client.updateMatch(ctx, matchId, matchUpdate{
		update:    "SET #p.ConnectionRef = :conn, #c = :conn",
		condition: "#status IN (:waiting, :ready, :active) AND #p.IsActive = :true",
		names:     map[string]string{"#p": playerAttr(role), "#c": connAttr(role)},
		values: mergeValues(openStatusValues(), map[string]types.AttributeValue{
			":conn": stringValue(connectionRef),
			":true": boolValue(true),
		}),
		apply: func(m *entities.Match) error {
			return m.Rebind(role, connectionRef)
		},
	})
}

// FindOpenMatchesByConnection queries both connection indexes. Index reads
// are eventually consistent, so hits are re-checked against the item itself.
func (client *Client) FindOpenMatchesByConnection(ctx context.Context, connectionRef string) ([]entities.Match, error) {
	if connectionRef == "" {
		return nil, nil
	}
	var matches []entities.Match
	seen := make(map[string]bool)
	for _, index := range []struct{ name, attr string }{
		{conn1Index, "Conn1"},
		{conn2Index, "Conn2"},
	} {
		found, err := client.queryMatches(ctx, &dynamodb.QueryInput{
			IndexName:              aws.String(index.name),
			KeyConditionExpression: aws.String(index.attr + " = :conn"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":conn": stringValue(connectionRef),
			},
		})
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if seen[m.MatchId] || !m.Status.IsOpen() {
				continue
			}
			if _, ok := m.RoleOfConnection(connectionRef); !ok {
				continue
			}
			seen[m.MatchId] = true
			matches = append(matches, m)
		}
	}
	sortByCreation(matches)
	return matches, nil
}

// ListOpenMatches queries the open-status index once per open status.
func (client *Client) ListOpenMatches(ctx context.Context) ([]entities.Match, error) {
	var matches []entities.Match
	for _, status := range []entities.Status{entities.StatusWaiting, entities.StatusReady, entities.StatusActive} {
		found, err := client.queryMatches(ctx, &dynamodb.QueryInput{
			IndexName:              aws.String(openStatusIndex),
			KeyConditionExpression: aws.String("OpenStatus = :status"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": stringValue(status.String()),
			},
		})
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if m.Status == status {
				matches = append(matches, m)
			}
		}
	}
	sortByCreation(matches)
	return matches, nil
}

func (client *Client) FetchWaitingMatchesBefore(ctx context.Context, cutoff time.Time) ([]entities.Match, error) {
	found, err := client.queryMatches(ctx, &dynamodb.QueryInput{
		IndexName:              aws.String(openStatusIndex),
		KeyConditionExpression: aws.String("OpenStatus = :waiting AND CreatedAt < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":waiting": stringValue(entities.StatusWaiting.String()),
			":cutoff":  numberValue(store.ToMillis(cutoff)),
		},
	})
	if err != nil {
		return nil, err
	}
	matches := found[:0]
	for _, m := range found {
		if m.Status == entities.StatusWaiting {
			matches = append(matches, m)
		}
	}
	sortByCreation(matches)
	return matches, nil
}

func (client *Client) updateMatch(ctx context.Context, matchId string, u matchUpdate) (entities.Match, error) {
	names := map[string]string{"#status": "Status"}
	for k, v := range u.names {
		names[k] = v
	}
	output, err := client.dynamodb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           client.cfg.MatchesTableName,
		Key:                                 matchKey(matchId),
		UpdateExpression:                    aws.String(u.update),
		ConditionExpression:                 aws.String("attribute_exists(MatchId) AND " + u.condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           u.values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return decodeMatch(output.Attributes)
	}
	old, ok := conditionFailed(err)
	if !ok {
		return entities.Match{}, unavailable("update match", err)
	}
	if old == nil {
		return entities.Match{}, store.ErrMatchNotFound
	}
	current, err := decodeMatch(old)
	if err != nil {
		return entities.Match{}, err
	}
	if reason := u.apply(&current); reason != nil {
		return entities.Match{}, fmt.Errorf("%w: %w", store.ErrConditionFailed, reason)
	}
	return entities.Match{}, fmt.Errorf("%w: match %s changed concurrently", store.ErrConditionFailed, matchId)
}

// queryMatches runs in against the matches table and follows pagination.
func (client *Client) queryMatches(ctx context.Context, in *dynamodb.QueryInput) ([]entities.Match, error) {
	in.TableName = client.cfg.MatchesTableName
	in.ScanIndexForward = aws.Bool(true)
	var matches []entities.Match
	for {
		output, err := client.dynamodb.Query(ctx, in)
		if err != nil {
			return nil, unavailable("query "+aws.ToString(in.IndexName), err)
		}
		for _, item := range output.Items {
			m, err := decodeMatch(item)
			if err != nil {
				return nil, err
			}
			matches = append(matches, m)
		}
		if len(output.LastEvaluatedKey) == 0 {
			return matches, nil
		}
		in.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

func sortByCreation(matches []entities.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].MatchId < matches[j].MatchId
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
}

func decodeMatch(item map[string]types.AttributeValue) (entities.Match, error) {
	var rec store.MatchRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return entities.Match{}, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return rec.ToEntity(), nil
}

func matchKey(matchId string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"MatchId": stringValue(matchId),
	}
}

func playerAttr(role entities.Role) string {
	if role == entities.RolePlayer2 {
		return "Player2"
	}
	return "Player1"
}

func connAttr(role entities.Role) string {
	if role == entities.RolePlayer2 {
		return "Conn2"
	}
	return "Conn1"
}

func openStatusValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":waiting": stringValue(entities.StatusWaiting.String()),
		":ready":   stringValue(entities.StatusReady.String()),
		":active":  stringValue(entities.StatusActive.String()),
	}
}

func mergeValues(a, b map[string]types.AttributeValue) map[string]types.AttributeValue {
	for k, v := range b {
		a[k] = v
	}
	return a
}

func stringValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func boolValue(b bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: b}
}
