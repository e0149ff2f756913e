package webdriver

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"

	"github.com/pranadao/prana-ticker/internal/scrape"
)

func TestChromeArgsCarryProfile(t *testing.T) {
	t.Parallel()

	profile := scrape.DefaultProfile()
	args := chromeArgs(profile, "/tmp/prana-session-x")
	joined := strings.Join(args, " ")

	require.Contains(t, joined, "--headless=new")
	require.Contains(t, joined, "--no-sandbox")
	require.Contains(t, joined, "--window-size=1920,1080")
	require.Contains(t, joined, "--user-data-dir=/tmp/prana-session-x")
	require.Contains(t, joined, "--user-agent=Mozilla/5.0")
	require.Contains(t, joined, "--disable-blink-features=AutomationControlled")
}

func TestByForMapsAllMechanisms(t *testing.T) {
	t.Parallel()

	cases := map[scrape.Mechanism]string{
		scrape.MechClassName: selenium.ByClassName,
		scrape.MechCSS:       selenium.ByCSSSelector,
		scrape.MechXPath:     selenium.ByXPATH,
	}
	for mechanism, want := range cases {
		got, err := byFor(mechanism)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := byFor(scrape.Mechanism("link_text"))
	require.Error(t, err)
}

func TestNewUserDataDirIsFreshAndUnique(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	first, err := newUserDataDir(base)
	require.NoError(t, err)
	second, err := newUserDataDir(base)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	for _, dir := range []string{first, second} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestFreePortAllocates(t *testing.T) {
	t.Parallel()

	port, err := freePort()
	require.NoError(t, err)
	require.Greater(t, port, 0)
}
