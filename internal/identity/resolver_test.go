package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlog/internal/model"
)

type fakeFinder struct {
	byName  map[string]*model.Visitor
	byEmail map[string]*model.Visitor
	err     error
	calls   []string
}

func (f *fakeFinder) FindVisitorByName(_ context.Context, name string) (*model.Visitor, error) {
	f.calls = append(f.calls, "name:"+name)
	return f.byName[name], f.err
}

func (f *fakeFinder) FindVisitorByEmail(_ context.Context, email string) (*model.Visitor, error) {
	f.calls = append(f.calls, "email:"+email)
	return f.byEmail[email], f.err
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	byName := &model.Visitor{ID: "v-name"}
	byEmail := &model.Visitor{ID: "v-email"}

	t.Run("name wins", func(t *testing.T) {
		f := &fakeFinder{byName: map[string]*model.Visitor{"Ann": byName}, byEmail: map[string]*model.Visitor{"a@x.io": byEmail}}
		v, err := NewResolver(f).Resolve(ctx, " Ann ", "a@x.io")
		require.NoError(t, err)
		assert.Equal(t, "v-name", v.ID)
		assert.Equal(t, []string{"name:Ann"}, f.calls)
	})

	t.Run("falls back to email", func(t *testing.T) {
		f := &fakeFinder{byEmail: map[string]*model.Visitor{"a@x.io": byEmail}}
		v, err := NewResolver(f).Resolve(ctx, "Someone Else", " a@x.io")
		require.NoError(t, err)
		assert.Equal(t, "v-email", v.ID)
	})

	t.Run("blank keys never hit the store", func(t *testing.T) {
		f := &fakeFinder{}
		v, err := NewResolver(f).Resolve(ctx, "  ", "")
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Empty(t, f.calls)
	})

	t.Run("store errors stop the lookup", func(t *testing.T) {
		f := &fakeFinder{err: errors.New("down")}
		_, err := NewResolver(f).Resolve(ctx, "Ann", "a@x.io")
		assert.Error(t, err)
		assert.Equal(t, []string{"name:Ann"}, f.calls)
	})
}

func TestFoldHelpers(t *testing.T) {
	assert.True(t, NameEquals(" Jane DOE", "jane doe "))
	assert.False(t, NameEquals("Jane Doe", "Jane  Doe"))
	assert.True(t, ContainsFold("Acme Construction", "STRUCT"))
	assert.True(t, HasPrefixFold("Acme", "ac"))
	assert.False(t, HasPrefixFold("Acme", "me"))
}
