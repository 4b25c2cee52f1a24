package publish

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

const (
	DefaultIndex = "sgcc_accounts"
	primaryKey   = "account_id"
)

// AccountIndexer mantém um documento por conta no Meilisearch, para busca
// por endereço ou filtro de contas em débito.
type AccountIndexer struct {
	client    meilisearch.ServiceManager
	indexName string
	logger    *slog.Logger
}

// NewAccountIndexer conecta e garante que o índice existe com os atributos certos.
func NewAccountIndexer(host, apiKey, indexName string, logger *slog.Logger) *AccountIndexer {
	if indexName == "" {
		indexName = DefaultIndex
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "indexer")
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))

	_, err := client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        indexName,
		PrimaryKey: primaryKey,
	})
	if err != nil {
		logger.Warn("aviso Meilisearch", "err", err)
	}

	client.Index(indexName).UpdateSearchableAttributes(&[]string{
		"account_id",
		"location",
	})
	client.Index(indexName).UpdateSortableAttributes(&[]string{
		"balance",
		"year_usage",
	})
	filterableAttrs := []interface{}{"in_arrears", "year"}
	client.Index(indexName).UpdateFilterableAttributes(&filterableAttrs)

	logger.Info("conectado ao Meilisearch", "index", indexName)
	return &AccountIndexer{client: client, indexName: indexName, logger: logger}
}

// Publish faz upsert parcial: campos que falharam neste ciclo ficam de fora
// do documento e o valor anterior é preservado.
func (i *AccountIndexer) Publish(runID string, acc *model.Account) error {
	doc := accountDoc(runID, acc, time.Now())
	pk := primaryKey
	task, err := i.client.Index(i.indexName).UpdateDocuments([]map[string]interface{}{doc}, &meilisearch.DocumentOptions{PrimaryKey: &pk})
	if err != nil {
		return fmt.Errorf("erro ao indexar conta %s: %w", acc.ID, err)
	}
	i.logger.Debug("conta indexada", "account", acc.ID, "task", task.TaskUID)
	return nil
}

func accountDoc(runID string, acc *model.Account, at time.Time) map[string]interface{} {
	doc := map[string]interface{}{
		primaryKey:   acc.ID,
		"run_id":     runID,
		"updated_at": at.UTC().Format(time.RFC3339),
	}
	if acc.Location != "" {
		doc["location"] = acc.Location
	}
	if acc.Balance != nil {
		doc["balance"] = acc.Balance.InexactFloat64()
		doc["in_arrears"] = acc.InArrears()
	}
	if acc.LastDaily != nil {
		doc["last_daily_date"] = acc.LastDaily.Date.Format(time.DateOnly)
		doc["last_daily_usage"] = acc.LastDaily.Usage
	}
	if acc.Yearly != nil {
		doc["year"] = acc.Yearly.Year
		doc["year_usage"] = acc.Yearly.Usage
		doc["year_charge"] = acc.Yearly.Charge.InexactFloat64()
	}
	return doc
}
