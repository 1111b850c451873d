package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealLeafRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, id, err := SealLeaf(plaintext)
	require.NoError(t, err)
	require.True(t, id.IsEncrypted())

	pt, err := OpenLeaf(ct, id)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestSealLeafConvergent(t *testing.T) {
	plaintext := []byte("convergent content")
	ct1, id1, err := SealLeaf(plaintext)
	require.NoError(t, err)
	ct2, id2, err := SealLeaf(plaintext)
	require.NoError(t, err)

	require.Equal(t, ct1, ct2)
	require.True(t, id1.Equal(id2))
}

func TestOpenLeafRejectsCorruption(t *testing.T) {
	plaintext := []byte("tamper target")
	ct, id, err := SealLeaf(plaintext)
	require.NoError(t, err)

	corrupted := append([]byte(nil), ct...)
	corrupted[0] ^= 0xff

	_, err = OpenLeaf(corrupted, id)
	require.Error(t, err)
}

func TestSealLeafPlainIsUnencrypted(t *testing.T) {
	plaintext := []byte("public content")
	stored, id := SealLeafPlain(plaintext)
	require.Equal(t, plaintext, stored)
	require.False(t, id.IsEncrypted())
}

func TestChunkRespectsBounds(t *testing.T) {
	data := make([]byte, 4*MaxChunkBytes+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	var chunks [][]byte
	err = Chunk(bytes.NewReader(data), func(c []byte) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var total int
	for i, c := range chunks {
		require.LessOrEqual(t, len(c), MaxChunkBytes)
		if i != len(chunks)-1 {
			require.GreaterOrEqual(t, len(c), MinChunkBytes)
		}
		total += len(c)
	}
	require.Equal(t, len(data), total)
}

func TestChunkDeterministic(t *testing.T) {
	data := make([]byte, 3*expectedChunkBytes)
	_, err := rand.Read(data)
	require.NoError(t, err)

	chunkLens := func() []int {
		var lens []int
		err := Chunk(bytes.NewReader(data), func(c []byte) error {
			lens = append(lens, len(c))
			return nil
		})
		require.NoError(t, err)
		return lens
	}

	require.Equal(t, chunkLens(), chunkLens())
}

func TestVideoChunkFixedSize(t *testing.T) {
	data := make([]byte, videoChunkBytes*2+123)
	_, err := rand.Read(data)
	require.NoError(t, err)

	var chunks [][]byte
	err = VideoChunk(bytes.NewReader(data), func(c []byte) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], videoChunkBytes)
	require.Len(t, chunks[1], videoChunkBytes)
	require.Len(t, chunks[2], 123)
}

func TestTreeNodeRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("abcdefghijklmnopqrstuvwxyz012345"))

	links := []Link{
		{Name: "readme.txt", Size: 42, Kind: KindBlob},
		{Name: "photos", Size: 0, Kind: KindDir},
		{Name: "secret.bin", Size: 99, Kind: KindBlob},
	}
	links[2].CID.Key = &key

	encoded := EncodeTreeNode(links)
	require.True(t, IsTreeNode(encoded))

	decoded, err := DecodeTreeNode(encoded)
	require.NoError(t, err)
	require.Equal(t, links, decoded)
}

func TestDecodeTreeNodeRejectsBadMagic(t *testing.T) {
	_, err := DecodeTreeNode([]byte{0, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeTreeNodeRejectsTruncated(t *testing.T) {
	links := []Link{{Name: "x", Kind: KindBlob}}
	encoded := EncodeTreeNode(links)
	_, err := DecodeTreeNode(encoded[:len(encoded)-5])
	require.Error(t, err)
}
