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

package checkpoint

type Config struct {
	// Backend is one of "postgres", "file" or "s3".
	Backend  string   `mapstructure:"backend"`
	Pipeline string   `mapstructure:"pipeline"`
	Dir      string   `mapstructure:"dir"`
	S3       S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	RoleARN   string `mapstructure:"role_arn"`
}

const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendS3       = "s3"
)

func DefaultConfig() Config {
	return Config{
		Backend:  BackendPostgres,
		Pipeline: "census",
		Dir:      "./checkpoints",
		S3: S3Config{
			Prefix: "censusrunner/checkpoints/",
		},
	}
}
