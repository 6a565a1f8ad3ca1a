package executor

import (
	"context"
	"fmt"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// ConversationThread reconstructs the chat history of a multi-turn column:
// the column's system prompt, then for every prior row one (user, assistant)
// pair — the user turn re-interpolated from the column's user prompt, the
// assistant turn taken from the column's cell value.
//
// Row ids are sortable and monotonically increasing with creation time, so
// "prior" is simply id < beforeRowID. An empty beforeRowID includes every
// persisted row; includeRow additionally keeps the row itself.
func ConversationThread(ctx context.Context, store domain.TableStore, projectID string, table *domain.Table, columnID, beforeRowID string, includeRow bool) ([]domain.ChatMessage, error) {
	col, ok := table.Columns.Column(columnID)
	if !ok {
		return nil, errors.NotFound("Column %q not found in table %q.", columnID, table.ID)
	}
	cfg, ok := col.Gen.(*domain.LLMGenConfig)
	if !ok {
		return nil, errors.BadInput("Column %q is not a chat column.", columnID)
	}

	rows, err := store.ListRows(ctx, projectID, table.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows of table %q: %w", table.ID, err)
	}

	thread := []domain.ChatMessage{domain.SystemMessage(cfg.SystemPrompt)}
	for _, row := range rows {
		id := row.ID()
		if beforeRowID != "" {
			if id > beforeRowID {
				break
			}
			if id == beforeRowID && !includeRow {
				break
			}
		}
		if user := domain.Interpolate(cfg.UserPrompt, row); user != "" {
			thread = append(thread, domain.UserMessage(user))
		}
		if assistant := row[columnID]; !domain.IsEmptyCell(assistant) {
			thread = append(thread, domain.AssistantMessage(domain.CellString(assistant)))
		}
	}
	return thread, nil
}
