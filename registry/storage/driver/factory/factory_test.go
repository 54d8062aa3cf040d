package factory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
)

type stubDriver struct{}

func (d *stubDriver) Name() string                                                { return "stub" }
func (d *stubDriver) GetContent(context.Context, string) ([]byte, error)          { return nil, nil }
func (d *stubDriver) PutContent(context.Context, string, []byte) error            { return nil }
func (d *stubDriver) Reader(context.Context, string, int64) (io.ReadCloser, error) {
	return nil, nil
}
func (d *stubDriver) Writer(context.Context, string, bool) (storagedriver.FileWriter, error) {
	return nil, nil
}
func (d *stubDriver) Stat(context.Context, string) (storagedriver.FileInfo, error) {
	return storagedriver.FileInfo{}, nil
}
func (d *stubDriver) Move(context.Context, string, string) error { return nil }
func (d *stubDriver) Delete(context.Context, string) error       { return nil }

type stubFactory struct{}

func (f *stubFactory) Create(parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return &stubDriver{}, nil
}

func TestRegisterAndCreate(t *testing.T) {
	Register("stub", &stubFactory{})

	d, err := Create("stub", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", d.Name())
}

func TestCreate_Unregistered(t *testing.T) {
	_, err := Create("does-not-exist", nil)
	require.Error(t, err)
	assert.IsType(t, InvalidStorageDriverError{}, err)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Register("stub-dup", &stubFactory{})
	assert.Panics(t, func() {
		Register("stub-dup", &stubFactory{})
	})
}

func TestRegister_NilPanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("stub-nil", nil)
	})
}
