// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package dbopen turns PREFIX_* environment variables into a PostgreSQL
// connection URL.
package dbopen

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

const defaultPort = "5432"

// Params are the parts of a connection URL. Empty parts are omitted.
type Params struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	ApplicationName string
}

// ParamsFromEnv reads PREFIX_HOST, PREFIX_PORT, PREFIX_USER,
// PREFIX_PASSWORD, PREFIX_DBNAME and PREFIX_SSLMODE. HOST and DBNAME are
// required. The application name comes from OTEL_SERVICE_NAME.
func ParamsFromEnv(prefix string) (Params, error) {
	prefix = strings.TrimSuffix(prefix, "_") + "_"
	env := func(k string) string { return os.Getenv(prefix + k) }

	p := Params{
		Host:            env("HOST"),
		Port:            env("PORT"),
		User:            env("USER"),
		Password:        env("PASSWORD"),
		DBName:          env("DBNAME"),
		SSLMode:         env("SSLMODE"),
		ApplicationName: applicationName(os.Getenv("OTEL_SERVICE_NAME")),
	}
	if p.Port == "" {
		p.Port = defaultPort
	}

	var missing []string
	if p.Host == "" {
		missing = append(missing, prefix+"HOST")
	}
	if p.DBName == "" {
		missing = append(missing, prefix+"DBNAME")
	}
	if len(missing) > 0 {
		return Params{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return p, nil
}

func (p Params) URL() string {
	u := url.URL{
		Scheme: "postgresql",
		Host:   p.Host + ":" + p.Port,
		Path:   p.DBName,
	}
	switch {
	case p.User != "" && p.Password != "":
		u.User = url.UserPassword(p.User, p.Password)
	case p.User != "":
		u.User = url.User(p.User)
	}

	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	if p.ApplicationName != "" {
		q.Set("application_name", p.ApplicationName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// GetDatabaseURLFromEnv prefers PREFIX_URL verbatim and otherwise builds
// the URL from ParamsFromEnv.
func GetDatabaseURLFromEnv(prefix string) (string, error) {
	if raw := os.Getenv(strings.TrimSuffix(prefix, "_") + "_URL"); raw != "" {
		return raw, nil
	}
	p, err := ParamsFromEnv(prefix)
	if err != nil {
		return "", err
	}
	return p.URL(), nil
}

// applicationName keeps what pg_stat_activity shows readable: letters,
// digits, dash and underscore, at most 63 bytes.
func applicationName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() == 63 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
