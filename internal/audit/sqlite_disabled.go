//go:build !sqlite
// +build !sqlite

package audit

import (
	"errors"

	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite audit not built: build with -tags sqlite")
}
