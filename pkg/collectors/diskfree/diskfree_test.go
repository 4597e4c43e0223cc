package diskfree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const sampleMounts = `sysfs /sys sysfs rw 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
tmpfs /run tmpfs rw 0 0
/dev/nvme0n1p1 /boot vfat rw 0 0
/dev/sda1 /data ext4 rw 0 0
/dev/sda1 /data ext4 rw 0 0
`

func fakeStatfs(usage map[string][2]uint64) func(string, *unix.Statfs_t) error {
	return func(path string, st *unix.Statfs_t) error {
		u, ok := usage[path]
		if !ok {
			return unix.ENOENT
		}
		st.Frsize = 4096
		st.Blocks = u[0] / 4096
		st.Bavail = u[1] / 4096
		return nil
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	mountsPath := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mountsPath, []byte(sampleMounts), 0o644))

	const gib = uint64(1) << 30
	s := NewSamplerWith(mountsPath, fakeStatfs(map[string][2]uint64{
		"/":     {100 * gib, 10 * gib},  // 90% used
		"/boot": {gib / 2, gib / 4},     // below min size
		"/data": {200 * gib, 150 * gib}, // 25% used
	}))

	mounts, err := s.List(gib)
	require.NoError(t, err)
	require.Len(t, mounts, 2, "pseudo filesystems, small and duplicate mounts are dropped")

	assert.Equal(t, "/", mounts[0].Mount)
	assert.Equal(t, 90, mounts[0].UsedPct)
	assert.Equal(t, "/data", mounts[1].Mount)
	assert.Equal(t, 25, mounts[1].UsedPct)
}

func TestListUnreadableTable(t *testing.T) {
	s := NewSamplerWith(filepath.Join(t.TempDir(), "absent"), fakeStatfs(nil))
	_, err := s.List(0)
	assert.Error(t, err)
}

func TestFormatGB(t *testing.T) {
	assert.Equal(t, "1.5GB", FormatGB(3<<29))
}
