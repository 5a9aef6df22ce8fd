package storage

import (
	"embed"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"recurswap/internal/swap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func loadMigration(name string) (string, error) {
	b, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return "", errors.Wrapf(err, "read migration %s", name)
	}
	return string(b), nil
}

// Schedules are stored as a JSON document next to a few indexed columns so the
// table schema survives field additions.
func encodeSchedule(s swap.Schedule) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "encode schedule")
	}
	return string(b), nil
}

func decodeSchedule(doc []byte) (swap.Schedule, error) {
	var s swap.Schedule
	if err := json.Unmarshal(doc, &s); err != nil {
		return swap.Schedule{}, errors.Wrap(err, "decode schedule")
	}
	return s, nil
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", field)
	}
	return d, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
