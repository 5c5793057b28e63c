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

// Omniglot dataset (Lake et al.): 1623 handwritten characters from 50
// alphabets, 20 samples each. Characters are the classes of the few-shot
// tasks. Downloaded from the original repository and resized to 28x28.

package vision

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
)

const (
	omniglotDownloadURL = "https://raw.githubusercontent.com/brendenlake/omniglot/master/python"

	// Class-level split used by the few-shot literature.
	omniglotTrainClasses = 1100
	omniglotValidClasses = 100

	// OmniglotSize is the side of the resized images.
	OmniglotSize = 28
)

var omniglotArchives = []string{"images_background.zip", "images_evaluation.zip"}

// DownloadOmniglot downloads and unpacks the Omniglot images under baseDir,
// if not yet there.
func DownloadOmniglot(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if !data.FileExists(baseDir) {
		if err := os.MkdirAll(baseDir, 0777); err != nil {
			return errors.Wrapf(err, "creating data directory %q", baseDir)
		}
	}
	for _, archive := range omniglotArchives {
		archiveURL, _ := url.JoinPath(omniglotDownloadURL, archive)
		zipPath := path.Join(baseDir, archive)
		targetDir := path.Join(baseDir, strings.TrimSuffix(archive, ".zip"))
		if err := data.DownloadAndUnzipIfMissing(archiveURL, zipPath, baseDir, targetDir, ""); err != nil {
			return errors.Wrapf(err, "downloading %q", archiveURL)
		}
	}
	return nil
}

// LoadOmniglot loads every character as a Class and returns the standard
// class-level split: 1100 for meta-training, 100 for meta-validation, the
// rest (423) for meta-testing. Classes are ordered by path so the split is
// deterministic across runs.
//
// Pixels are inverted to ink=1 on background=0, matching the models'
// expectations.
func LoadOmniglot(baseDir string) (train, valid, test []Class, err error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	var characterDirs []string
	for _, archive := range omniglotArchives {
		setDir := path.Join(baseDir, strings.TrimSuffix(archive, ".zip"))
		alphabets, err := os.ReadDir(setDir)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "reading %q -- run DownloadOmniglot first", setDir)
		}
		for _, alphabet := range alphabets {
			if !alphabet.IsDir() {
				continue
			}
			characters, err := os.ReadDir(path.Join(setDir, alphabet.Name()))
			if err != nil {
				return nil, nil, nil, errors.Wrapf(err, "reading alphabet %q", alphabet.Name())
			}
			for _, character := range characters {
				if character.IsDir() {
					characterDirs = append(characterDirs, path.Join(setDir, alphabet.Name(), character.Name()))
				}
			}
		}
	}
	sort.Strings(characterDirs)

	classes := make([]Class, 0, len(characterDirs))
	for _, dir := range characterDirs {
		class, err := loadCharacterClass(dir)
		if err != nil {
			return nil, nil, nil, err
		}
		classes = append(classes, class)
	}
	if len(classes) <= omniglotTrainClasses+omniglotValidClasses {
		return nil, nil, nil, errors.Errorf("only %d Omniglot classes found in %q, expected 1623", len(classes), baseDir)
	}
	train = classes[:omniglotTrainClasses]
	valid = classes[omniglotTrainClasses : omniglotTrainClasses+omniglotValidClasses]
	test = classes[omniglotTrainClasses+omniglotValidClasses:]
	return train, valid, test, nil
}

// loadCharacterClass loads all PNGs of one character directory, resized to
// 28x28 grayscale.
func loadCharacterClass(dir string) (Class, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Class{}, errors.Wrapf(err, "reading character directory %q", dir)
	}
	var class Class
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		imgPath := filepath.Join(dir, entry.Name())
		img, err := imaging.Open(imgPath)
		if err != nil {
			return Class{}, errors.Wrapf(err, "decoding %q", imgPath)
		}
		resized := imaging.Grayscale(imaging.Resize(img, OmniglotSize, OmniglotSize, imaging.Lanczos))
		pixels := make([]float32, 0, OmniglotSize*OmniglotSize)
		for y := 0; y < OmniglotSize; y++ {
			for x := 0; x < OmniglotSize; x++ {
				// NRGBA grayscale: R==G==B. Invert so the ink is 1.
				offset := resized.PixOffset(x, y)
				pixels = append(pixels, 1.0-float32(resized.Pix[offset])/255.0)
			}
		}
		class.Images = append(class.Images, pixels)
	}
	if len(class.Images) == 0 {
		return Class{}, errors.Errorf("no PNG images found in %q", dir)
	}
	return class, nil
}
