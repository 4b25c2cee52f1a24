package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DailyUsage é o consumo de um único dia, em kWh.
type DailyUsage struct {
	Date  time.Time `json:"date"`
	Usage float64   `json:"usage"`
}

// MonthlyUsage agrega um mês do ano exibido no portal.
// Month sempre aponta para o primeiro dia do mês.
type MonthlyUsage struct {
	Month  time.Time       `json:"month"`
	Usage  float64         `json:"usage"`
	Charge decimal.Decimal `json:"charge"`
}

// YearlyUsage é o total do ano que estava selecionado na tela.
type YearlyUsage struct {
	Year   int             `json:"year"`
	Usage  float64         `json:"usage"`
	Charge decimal.Decimal `json:"charge"`
}

// Account é o snapshot de uma conta coletado em um único ciclo.
// Cada campo derivado é opcional: nil ou vazio significa que a extração falhou
// e o motivo fica em Failures.
type Account struct {
	ID        string           `json:"id"`
	Location  string           `json:"location,omitempty"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	LastDaily *DailyUsage      `json:"last_daily,omitempty"`
	Daily     []DailyUsage     `json:"daily,omitempty"`
	Monthly   []MonthlyUsage   `json:"monthly,omitempty"`
	Yearly    *YearlyUsage     `json:"yearly,omitempty"`
	Failures  []FieldError     `json:"-"`
}

// MenuAccount é um id do menu de contas com a posição real do item no menu.
// Itens sem id ocupam posição mas não geram MenuAccount.
type MenuAccount struct {
	Index int
	ID    string
}

func NewAccount(id string) *Account {
	return &Account{ID: id}
}

// Fail registra a falha de uma sub-operação sem interromper as demais.
func (a *Account) Fail(field string, kind Kind, err error) {
	a.Failures = append(a.Failures, FieldError{Field: field, Kind: kind, Err: err})
}

// Complete indica que todos os campos foram extraídos.
func (a *Account) Complete() bool {
	return len(a.Failures) == 0
}

// InArrears é verdadeiro quando o saldo é negativo (conta em débito).
func (a *Account) InArrears() bool {
	return a.Balance != nil && a.Balance.IsNegative()
}

// Kind classifica falhas pelo impacto no ciclo.
type Kind int

const (
	// KindConfig não é retentado: configuração ou credenciais inválidas.
	KindConfig Kind = iota
	// KindTransient cobre timeouts e elementos que não apareceram.
	KindTransient
	// KindSession encerra o ciclo inteiro.
	KindSession
	// KindAccount afeta somente a conta atual.
	KindAccount
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindSession:
		return "session"
	case KindAccount:
		return "account"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FieldError é o resultado explícito de uma sub-operação que falhou.
type FieldError struct {
	Field string
	Kind  Kind
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Field, e.Kind, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}
