package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ovierrors "github.com/standardbeagle/ovi/internal/errors"
)

const basePy = `class NotificationChannel:
    """Delivery interface."""

    def send(self, message):
        raise NotImplementedError

    def close(self):
        pass
`

const emailPy = `from base import NotificationChannel


class EmailChannel(NotificationChannel):
    def send(self, message):
        self._deliver(message)

    def _deliver(self, message):
        pass
`

const webhookPy = `import base


class WebhookChannel(base.NotificationChannel):
    @retry(times=3)
    async def send(self, message):
        await self._post(message)
`

func writeFixture(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func channelWorkspace(t *testing.T) (root string, base, email, webhook string) {
	t.Helper()
	root = t.TempDir()
	base = writeFixture(t, root, "base.py", basePy)
	email = writeFixture(t, root, "email_channel.py", emailPy)
	webhook = writeFixture(t, root, "webhook_channel.py", webhookPy)
	return root, base, email, webhook
}

func TestAnalyzeBuildsOverrideRelationships(t *testing.T) {
	root, base, email, webhook := channelWorkspace(t)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{base, email, webhook})
	require.NoError(t, err)
	require.Contains(t, result, email)

	emailData := result[email]
	require.Len(t, emailData.Methods, 1)
	rel := emailData.Methods[0]
	assert.Equal(t, "send", rel.Method.Name)
	assert.Equal(t, "EmailChannel", rel.Method.ClassName)
	assert.Equal(t, 5, rel.Method.Line)
	require.Len(t, rel.BaseMethods, 1)
	assert.Equal(t, "NotificationChannel", rel.BaseMethods[0].ClassName)
	assert.Equal(t, 4, rel.BaseMethods[0].Line)

	// The base file sees both overrides.
	require.Contains(t, result, base)
	baseData := result[base]
	var sendRel bool
	for _, r := range baseData.Methods {
		if r.Method.Name == "send" {
			sendRel = true
			assert.Empty(t, r.BaseMethods)
			assert.Len(t, r.OverrideMethods, 2)
		}
	}
	assert.True(t, sendRel, "base send should carry override relationships")
}

func TestAnalyzeClassInheritance(t *testing.T) {
	root, base, email, webhook := channelWorkspace(t)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{base, email, webhook})
	require.NoError(t, err)

	emailData := result[email]
	ci, ok := emailData.Classes["EmailChannel"]
	require.True(t, ok)
	assert.Equal(t, "email_channel.EmailChannel", ci.FullName)
	assert.Equal(t, []string{"base.NotificationChannel"}, ci.BaseClasses)
	assert.Equal(t, 4, ci.Line)

	baseData := result[base]
	bc, ok := baseData.Classes["NotificationChannel"]
	require.True(t, ok)
	assert.Empty(t, bc.BaseClasses)
	assert.ElementsMatch(t,
		[]string{"email_channel.EmailChannel", "webhook_channel.WebhookChannel"},
		bc.SubClasses)
}

func TestAnalyzeDottedBaseReference(t *testing.T) {
	root, _, _, webhook := channelWorkspace(t)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{
		filepath.Join(root, "base.py"), webhook,
	})
	require.NoError(t, err)

	ci := result[webhook].Classes["WebhookChannel"]
	assert.Equal(t, []string{"base.NotificationChannel"}, ci.BaseClasses)
}

func TestAnalyzeAsyncAndDecorators(t *testing.T) {
	root, base, _, webhook := channelWorkspace(t)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{base, webhook})
	require.NoError(t, err)

	rel := result[webhook].Methods[0]
	assert.True(t, rel.Method.IsAsync)
	assert.Equal(t, []string{"retry"}, rel.Method.Decorators)
}

func TestAnalyzeAbstractMethod(t *testing.T) {
	root := t.TempDir()
	path := writeFixture(t, root, "shapes.py", `from abc import ABC, abstractmethod


class Shape(ABC):
    @abstractmethod
    def area(self):
        ...


class Circle(Shape):
    def area(self):
        return 3.14
`)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{path})
	require.NoError(t, err)

	data := result[path]
	var abstractSeen bool
	for _, rel := range data.Methods {
		if rel.Method.ClassName == "Shape" && rel.Method.Name == "area" {
			abstractSeen = true
			assert.True(t, rel.Method.IsAbstract)
		}
	}
	assert.True(t, abstractSeen)
}

func TestAnalyzeFileWithoutInheritanceOmitted(t *testing.T) {
	root := t.TempDir()
	plain := writeFixture(t, root, "util.py", "def helper():\n    return 1\n")
	lone := writeFixture(t, root, "lone.py", "class Standalone:\n    def run(self):\n        pass\n")

	a := New(root, 0)
	result, err := a.Analyze(context.Background(), []string{plain, lone})
	require.NoError(t, err)

	assert.NotContains(t, result, plain)
	assert.NotContains(t, result, lone)
}

func TestAnalyzeSkipsBrokenFiles(t *testing.T) {
	root, base, email, _ := channelWorkspace(t)
	broken := writeFixture(t, root, "broken.py", "class Broken(:\n    def\n")

	a := New(root, 0)
	result, err := a.Analyze(context.Background(), []string{base, email, broken})
	require.NoError(t, err)

	assert.Contains(t, result, email)
	assert.NotContains(t, result, broken)
}

func TestAnalyzeMissingFileOmitted(t *testing.T) {
	root, base, email, _ := channelWorkspace(t)

	a := New(root, 0)
	result, err := a.Analyze(context.Background(), []string{base, email, filepath.Join(root, "gone.py")})
	require.NoError(t, err)
	assert.Contains(t, result, email)
}

func TestAnalyzeFileSurfacesSyntaxError(t *testing.T) {
	root := t.TempDir()
	broken := writeFixture(t, root, "broken.py", "class Broken(:\n")

	a := New(root, 0)
	_, err := a.AnalyzeFile(context.Background(), broken)
	require.Error(t, err)
	assert.True(t, ovierrors.IsSyntaxError(err))
}

func TestAnalyzeFileTooLarge(t *testing.T) {
	root := t.TempDir()
	path := writeFixture(t, root, "big.py", "class A(B):\n    pass\n")

	a := New(root, 4)
	_, err := a.AnalyzeFile(context.Background(), path)
	require.Error(t, err)
	assert.False(t, ovierrors.IsSyntaxError(err))
}

func TestAnalyzeReanalysisReplacesFacts(t *testing.T) {
	root, base, email, _ := channelWorkspace(t)
	a := New(root, 0)

	_, err := a.Analyze(context.Background(), []string{base, email})
	require.NoError(t, err)

	// EmailChannel stops inheriting; its relationships disappear from
	// the next batch result.
	require.NoError(t, os.WriteFile(email, []byte("class EmailChannel:\n    def send(self, message):\n        pass\n"), 0644))

	result, err := a.Analyze(context.Background(), []string{base, email})
	require.NoError(t, err)
	assert.NotContains(t, result, email)
	assert.NotContains(t, result, base)
}

func TestForgetDropsDeletedFileFacts(t *testing.T) {
	root, base, email, webhook := channelWorkspace(t)
	a := New(root, 0)

	_, err := a.Analyze(context.Background(), []string{base, email, webhook})
	require.NoError(t, err)

	// email_channel.py is deleted. Once forgotten, a later re-analysis
	// of the base file must not report EmailChannel anywhere.
	require.NoError(t, os.Remove(email))
	a.Forget(email)

	result, err := a.Analyze(context.Background(), []string{base})
	require.NoError(t, err)
	require.Contains(t, result, base)
	for _, rel := range result[base].Methods {
		for _, m := range rel.OverrideMethods {
			assert.NotEqual(t, "EmailChannel", m.ClassName)
		}
	}
	bc := result[base].Classes["NotificationChannel"]
	assert.Equal(t, []string{"webhook_channel.WebhookChannel"}, bc.SubClasses)
}

func TestAnalyzeNestedClasses(t *testing.T) {
	root := t.TempDir()
	path := writeFixture(t, root, "outer.py", `class Config:
    class Meta:
        pass


class AppConfig(Config):
    pass
`)
	a := New(root, 0)

	result, err := a.Analyze(context.Background(), []string{path})
	require.NoError(t, err)

	data := result[path]
	require.NotNil(t, data)
	require.Contains(t, data.Classes, "Meta")
	assert.Equal(t, "outer.Config.Meta", data.Classes["Meta"].FullName)
	assert.Equal(t, []string{"outer.Config"}, data.Classes["AppConfig"].BaseClasses)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "pkg.mod", moduleName("/ws", "/ws/pkg/mod.py"))
	assert.Equal(t, "pkg", moduleName("/ws", "/ws/pkg/__init__.py"))
	assert.Equal(t, "mod", moduleName("/ws", "/elsewhere/mod.py"))
}
