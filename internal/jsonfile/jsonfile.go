// Package jsonfile persists small module state documents. Files are read as
// HuJSON so hand edits may carry comments and trailing commas.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"worldmachine/internal/errs"

	"github.com/tailscale/hujson"
)

// Load decodes the document at path into v. It reports false without error
// when the file does not exist.
func Load(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(err)
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return false, errs.Wrap(err)
	}
	if err := json.Unmarshal(std, v); err != nil {
		return false, errs.Wrap(err)
	}
	return true, nil
}

// Save writes v as indented JSON. The file is replaced through a rename so
// readers never see a partial document.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errs.Wrap(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errs.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.Rename(tmp.Name(), path))
}

// Snowflake is a Discord id written as a JSON number. Quoted ids are
// accepted on read.
type Snowflake string

func (s Snowflake) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(s), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid snowflake %q", string(s))
	}
	return []byte(s), nil
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		n = json.Number(str)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid snowflake %q", n.String())
	}
	*s = Snowflake(n)
	return nil
}
