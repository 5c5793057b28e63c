/*
 *	Copyright 2025 The metalearn Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Mini-ImageNet (Vinyals et al. / Ravi & Larochelle): 100 ImageNet classes
// with 600 images each, 84x84, split 64/16/20 classes for meta-train,
// meta-validation and meta-test.
//
// ImageNet data cannot be fetched anonymously, so this loader expects the
// images to have been acquired separately and laid out as:
//
//	<dir>/train/<class>/*.jpg
//	<dir>/validation/<class>/*.jpg
//	<dir>/test/<class>/*.jpg
//
// Any image format the imaging package decodes works; everything is
// resized to 84x84 on load.

package vision

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
)

// MiniImageNetSize is the side of the resized images.
const MiniImageNetSize = 84

// LoadMiniImageNet loads the three class splits from dir. See the package
// note above for the expected layout.
func LoadMiniImageNet(dir string) (train, valid, test []Class, err error) {
	dir = data.ReplaceTildeInDir(dir)
	for _, split := range []struct {
		name    string
		classes *[]Class
	}{
		{"train", &train},
		{"validation", &valid},
		{"test", &test},
	} {
		*split.classes, err = loadImageClasses(filepath.Join(dir, split.name))
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err,
				"loading Mini-ImageNet split %q -- the dataset must be downloaded separately and unpacked under %q",
				split.name, dir)
		}
	}
	return train, valid, test, nil
}

// loadImageClasses loads one class per sub-directory of splitDir, in
// deterministic (sorted) order.
func loadImageClasses(splitDir string) ([]Class, error) {
	entries, err := os.ReadDir(splitDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", splitDir)
	}
	var classDirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			classDirs = append(classDirs, filepath.Join(splitDir, entry.Name()))
		}
	}
	sort.Strings(classDirs)
	if len(classDirs) == 0 {
		return nil, errors.Errorf("no class directories in %q", splitDir)
	}
	classes := make([]Class, 0, len(classDirs))
	for _, classDir := range classDirs {
		images, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", classDir)
		}
		var class Class
		for _, image := range images {
			if image.IsDir() {
				continue
			}
			imgPath := filepath.Join(classDir, image.Name())
			img, err := imaging.Open(imgPath)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding %q", imgPath)
			}
			resized := imaging.Resize(img, MiniImageNetSize, MiniImageNetSize, imaging.Lanczos)
			pixels := make([]float32, 0, MiniImageNetSize*MiniImageNetSize*3)
			for y := 0; y < MiniImageNetSize; y++ {
				for x := 0; x < MiniImageNetSize; x++ {
					offset := resized.PixOffset(x, y)
					pixels = append(pixels,
						float32(resized.Pix[offset])/255.0,
						float32(resized.Pix[offset+1])/255.0,
						float32(resized.Pix[offset+2])/255.0)
				}
			}
			class.Images = append(class.Images, pixels)
		}
		if len(class.Images) > 0 {
			classes = append(classes, class)
		}
	}
	return classes, nil
}
