package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTP stores documents as files under Root/<bucket>/<key> on an FTP server.
// Each call opens its own control connection.
type FTP struct {
	Addr     string
	User     string
	Password string
	Root     string
	Timeout  time.Duration
}

func NewFTP(addr, user, password, root string) *FTP {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	return &FTP{Addr: addr, User: user, Password: password, Root: root, Timeout: 30 * time.Second}
}

func (f *FTP) dial(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.Addr, ftp.DialWithTimeout(f.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login(f.User, f.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

func (f *FTP) objectPath(bucket, key string) string {
	return path.Join(f.Root, bucket, key)
}

func (f *FTP) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(f.objectPath(bucket, key))
	if err != nil {
		if isFileUnavailable(err) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("ftp retr %s/%s: %w", bucket, key, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (f *FTP) Put(ctx context.Context, bucket, key string, body []byte) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	dir := path.Join(f.Root, bucket)
	if err := conn.MakeDir(dir); err != nil && !isFileUnavailable(err) {
		return fmt.Errorf("ftp mkdir %s: %w", dir, err)
	}
	if err := conn.Stor(f.objectPath(bucket, key), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("ftp stor %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (f *FTP) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	names, err := conn.NameList(path.Join(f.Root, bucket))
	if err != nil {
		if isFileUnavailable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ftp nlst %s: %w", bucket, err)
	}
	return filterKeys(names, prefix), nil
}

// filterKeys strips any directory component servers include in NLST output
// and keeps the keys starting with prefix.
func filterKeys(names []string, prefix string) []string {
	var keys []string
	for _, name := range names {
		key := path.Base(name)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func isFileUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}
