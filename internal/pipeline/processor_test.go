package pipeline

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return zr
}

func TestPlanMembersFiltersAndFlattens(t *testing.T) {
	zr := buildZip(t, map[string]string{
		"src/app.ts":        "code",
		"src/ui/View.tsx":   "code",
		"styles/main.css":   "css",
		"README.md":         "docs",
		"assets/logo.png":   "binary",
		"build/output.wasm": "binary",
	})

	plans, err := planMembers(zr, "myrepo", 100)
	require.NoError(t, err)

	flat := map[string]string{}
	for _, p := range plans {
		flat[p.RelPath] = p.FlatName
	}
	assert.Len(t, plans, 4, "不支持的扩展名被过滤")
	assert.Equal(t, "myrepo__src__app.ts", flat["src/app.ts"])
	assert.Equal(t, "myrepo__src__ui__View.tsx", flat["src/ui/View.tsx"])
	assert.Equal(t, "myrepo__styles__main.css", flat["styles/main.css"])
	assert.Equal(t, "myrepo__README.md", flat["README.md"])
	assert.NotContains(t, flat, "assets/logo.png")
}

func TestPlanMembersSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("src/")
	require.NoError(t, err)
	w, err := zw.Create("src/a.md")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	plans, err := planMembers(zr, "repo", 100)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "src/a.md", plans[0].RelPath)
}

func TestPlanMembersEnforcesFileCountLimit(t *testing.T) {
	zr := buildZip(t, map[string]string{
		"a.md": "1",
		"b.md": "2",
		"c.md": "3",
	})

	_, err := planMembers(zr, "repo", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "上限")
}

func TestZipBaseName(t *testing.T) {
	assert.Equal(t, "project", zipBaseName("project.zip"))
	assert.Equal(t, "a.b", zipBaseName("a.b.zip"))
	assert.Equal(t, "noext", zipBaseName("noext"))
	assert.Equal(t, "archive", zipBaseName(""))
	assert.Equal(t, ".hidden", zipBaseName(".hidden"))
}

func TestFlattenName(t *testing.T) {
	assert.Equal(t, "base__a__b__c.ts", flattenName("base", "a/b/c.ts"))
	assert.Equal(t, "base__top.md", flattenName("base", "top.md"))
}

func TestSplitTextWindows(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := splitText(text, 1000, 100)

	// 步长 900：0..1000、900..1900、1800..2500
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 700)
}

func TestSplitTextShortInput(t *testing.T) {
	chunks := splitText("short", 1000, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0])

	assert.Nil(t, splitText("", 1000, 100))
}

func TestSplitTextOverlapKeepsContinuity(t *testing.T) {
	text := "0123456789"
	chunks := splitText(text, 4, 2)

	// 每个窗口与前一个窗口重叠两个字符
	require.GreaterOrEqual(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.True(t, strings.HasPrefix(chunks[i], prev[len(prev)-2:]),
			"chunk %d 应与前一个重叠", i)
	}
}

func TestReadMember(t *testing.T) {
	zr := buildZip(t, map[string]string{"doc.md": "hello world"})
	data, err := readMember(zr, "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = readMember(zr, "missing.md")
	require.Error(t, err)
}
