package repository

import (
	"errors"
	"strings"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE wildcards in user supplied search text.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}
